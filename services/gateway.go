package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
)

// instanceCacheTTL bounds how long a resolved instance name is trusted
// before the gateway is probed again.
const instanceCacheTTL = 60 * time.Second

// GatewayService talks to the outbound messaging gateway (API-key
// authenticated HTTP) and memoizes which channel instance is currently
// connected. All probing errors degrade to "no instance available" so
// callers can simply skip the current item and try again next tick.
type GatewayService struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu             sync.Mutex
	cachedInstance string
	cachedAt       time.Time
	cacheTTL       time.Duration
}

func NewGatewayService(baseURL, apiKey string) *GatewayService {
	return &GatewayService{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheTTL: instanceCacheTTL,
	}
}

// instanceEnvelope mirrors the gateway's fetchInstances item shape.
type instanceEnvelope struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		Status       string `json:"status"`
	} `json:"instance"`
}

// stateEnvelope mirrors the gateway's connectionState response shape.
type stateEnvelope struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// ResolveInstance returns the name of a currently connected channel
// instance, or "" when none is available. Successful resolutions are cached
// for the TTL; a miss re-probes from scratch.
func (s *GatewayService) ResolveInstance() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedInstance != "" && time.Since(s.cachedAt) < s.cacheTTL {
		return s.cachedInstance
	}

	instances, err := s.listInstances()
	if err != nil {
		log.Printf("Gateway: failed to list instances: %v", err)
		return ""
	}

	for _, inst := range instances {
		state, err := s.connectionState(inst.InstanceName)
		if err != nil {
			log.Printf("Gateway: failed to probe instance %s: %v", inst.InstanceName, err)
			continue
		}
		if state == db.GatewayStateOpen {
			s.cachedInstance = inst.InstanceName
			s.cachedAt = time.Now()
			return inst.InstanceName
		}
	}

	log.Println("Gateway: no connected instance available")
	return ""
}

// listInstances fetches all channel instances known to the gateway.
func (s *GatewayService) listInstances() ([]db.GatewayInstance, error) {
	body, err := s.doRequest("GET", "/instance/fetchInstances", nil)
	if err != nil {
		return nil, err
	}

	var envelopes []instanceEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to decode instance list: %w", err)
	}

	instances := make([]db.GatewayInstance, 0, len(envelopes))
	for _, e := range envelopes {
		instances = append(instances, db.GatewayInstance{
			InstanceName: e.Instance.InstanceName,
			State:        e.Instance.Status,
		})
	}

	return instances, nil
}

// connectionState probes a single instance and returns its state string.
func (s *GatewayService) connectionState(instanceName string) (string, error) {
	body, err := s.doRequest("GET", "/instance/connectionState/"+instanceName, nil)
	if err != nil {
		return "", err
	}

	var envelope stateEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("failed to decode connection state: %w", err)
	}

	return envelope.Instance.State, nil
}

// SendText sends a text message to a numeric address via a named instance.
func (s *GatewayService) SendText(instanceName, number, text string) error {
	payload := map[string]interface{}{
		"number": number,
		"text":   text,
	}

	_, err := s.doRequest("POST", "/message/sendText/"+instanceName, payload)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", number, err)
	}

	return nil
}

// SetComposing sets the "composing" presence indicator for a chat.
// Best-effort: failures are logged and swallowed.
func (s *GatewayService) SetComposing(instanceName, number string) {
	payload := map[string]interface{}{
		"number":   number,
		"presence": "composing",
		"delay":    1200,
	}

	if _, err := s.doRequest("POST", "/chat/sendPresence/"+instanceName, payload); err != nil {
		log.Printf("Gateway: failed to set composing presence for %s: %v", number, err)
	}
}

// doRequest performs one authenticated gateway call and returns the raw body.
func (s *GatewayService) doRequest(method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonPayload, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonPayload)
	}

	req, err := http.NewRequest(method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", s.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
