package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/torvus-labs/torvus-console/pkg/config"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/roles"
)

// StepsContext holds state shared between step definitions
type StepsContext struct {
	tc           *TestContext
	server       *ScenarioServer
	response     *http.Response
	responseBody []byte
	requestID    string
}

// NewStepsContext creates a new steps context
func NewStepsContext(tc *TestContext) *StepsContext {
	return &StepsContext{tc: tc}
}

// RegisterSteps registers all step definitions
func (s *StepsContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		if err := s.tc.Reset(ctx); err != nil {
			return ctx, fmt.Errorf("failed to reset database: %w", err)
		}
		s.server = s.tc.StartServer()
		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.server != nil {
			s.server.HTTP.Close()
		}
		return ctx, nil
	})

	// Background steps
	sc.Step(`^a Torvus Console is running$`, s.aTorvusConsoleIsRunning)
	sc.Step(`^staff "([^"]*)" exists$`, s.staffExists)
	sc.Step(`^staff "([^"]*)" holds role "([^"]*)"$`, s.staffHoldsRole)

	// Request steps
	sc.Step(`^"([^"]*)" sends (GET|POST) "([^"]*)"$`, s.sends)
	sc.Step(`^"([^"]*)" sends (GET|POST) "([^"]*)" with:$`, s.sendsWith)
	sc.Step(`^I remember the request id$`, s.iRememberTheRequestID)

	// Response steps
	sc.Step(`^the response status should be (\d+)$`, s.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, s.theResponseFieldShouldBe)

	s.registerWorkflowSteps(sc)
}

// Background steps

func (s *StepsContext) aTorvusConsoleIsRunning() error {
	if s.server == nil {
		return fmt.Errorf("server was not started")
	}
	resp, err := s.tc.HTTPClient.Get(s.server.HTTP.URL + "/healthz")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz returned %d", resp.StatusCode)
	}
	return nil
}

func (s *StepsContext) staffExists(id string) error {
	return s.tc.DB.Exec(`
		INSERT INTO staff (id, email, display_name, active) VALUES (?, ?, ?, true)
		ON CONFLICT (id) DO NOTHING
	`, id, emailFor(id), id).Error
}

func (s *StepsContext) staffHoldsRole(id, role string) error {
	if err := s.staffExists(id); err != nil {
		return err
	}
	return roles.NewAuthority(s.tc.DB).GrantPermanentRole(context.Background(), id, role)
}

// Request steps

func (s *StepsContext) sends(who, method, path string) error {
	return s.do(who, method, path, nil)
}

func (s *StepsContext) sendsWith(who, method, path string, body *godog.DocString) error {
	return s.do(who, method, path, []byte(body.Content))
}

func (s *StepsContext) do(who, method, path string, body []byte) error {
	path = strings.ReplaceAll(path, "{id}", s.requestID)
	req, err := http.NewRequest(method, s.server.HTTP.URL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who != "" && who != "nobody" {
		req.Header.Set(config.DefaultIdentityHeader, emailFor(who))
	}

	resp, err := s.tc.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	s.response = resp
	s.responseBody, err = io.ReadAll(resp.Body)
	return err
}

func (s *StepsContext) iRememberTheRequestID() error {
	id, err := s.field("id")
	if err != nil {
		return err
	}
	s.requestID = fmt.Sprint(id)
	return nil
}

// Response steps

func (s *StepsContext) theResponseStatusShouldBe(expected int) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if s.response.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, s.response.StatusCode, string(s.responseBody))
	}
	return nil
}

func (s *StepsContext) theResponseFieldShouldBe(name, expected string) error {
	v, err := s.field(name)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("expected %s to be %q, got %q", name, expected, got)
	}
	return nil
}

func (s *StepsContext) field(name string) (interface{}, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(s.responseBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", string(s.responseBody))
	}
	v, ok := body[name]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", name, string(s.responseBody))
	}
	return v, nil
}

func emailFor(id string) string {
	return id + "@torvus.io"
}

// activeMembership loads a membership row, failing if it is missing
func (s *StepsContext) activeMembership(principalID, role string) (*model.RoleMembership, error) {
	var m model.RoleMembership
	err := s.tc.DB.Where("principal_id = ? AND role_name = ?", principalID, role).First(&m).Error
	if err != nil {
		return nil, fmt.Errorf("no %s membership for %s: %w", role, principalID, err)
	}
	if !m.ActiveAt(time.Now().UTC()) {
		return nil, fmt.Errorf("%s membership for %s is not active", role, principalID)
	}
	return &m, nil
}
