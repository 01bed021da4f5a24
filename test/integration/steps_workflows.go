package integration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cucumber/godog"

	"github.com/torvus-labs/torvus-console/pkg/model"
)

func (s *StepsContext) registerWorkflowSteps(sc *godog.ScenarioContext) {
	sc.Step(`^"([^"]*)" should hold role "([^"]*)" for about (\d+) minutes$`, s.shouldHoldRoleForAbout)
	sc.Step(`^"([^"]*)" should not hold role "([^"]*)"$`, s.shouldNotHoldRole)
	sc.Step(`^the elevation request should have (\d+) approvals?$`, s.elevationShouldHaveApprovals)
	sc.Step(`^secret "([^"]*)" in "([^"]*)" should have version (\d+)$`, s.secretShouldHaveVersion)
	sc.Step(`^secret "([^"]*)" in "([^"]*)" should not exist$`, s.secretShouldNotExist)
	sc.Step(`^the audit log should contain (\d+) "([^"]*)" records?$`, s.auditLogShouldContain)
	sc.Step(`^the audit chain should verify$`, s.auditChainShouldVerify)
	sc.Step(`^a "([^"]*)" notification should have been sent$`, s.notificationShouldHaveBeenSent)
}

func (s *StepsContext) shouldHoldRoleForAbout(principalID, role string, minutes int) error {
	m, err := s.activeMembership(principalID, role)
	if err != nil {
		return err
	}
	if m.Source != model.SourceBreakGlass {
		return fmt.Errorf("expected a break_glass membership, got %s", m.Source)
	}
	if m.ValidTo == nil {
		return fmt.Errorf("break_glass membership has no end")
	}
	want := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
	if diff := math.Abs(m.ValidTo.Sub(want).Seconds()); diff > 60 {
		return fmt.Errorf("membership ends at %s, expected about %s", m.ValidTo, want)
	}
	return nil
}

func (s *StepsContext) shouldNotHoldRole(principalID, role string) error {
	if _, err := s.activeMembership(principalID, role); err == nil {
		return fmt.Errorf("%s unexpectedly holds %s", principalID, role)
	}
	return nil
}

func (s *StepsContext) elevationShouldHaveApprovals(expected int) error {
	var n int64
	err := s.tc.DB.Model(&model.ElevationApproval{}).Where("request_id = ?", s.requestID).Count(&n).Error
	if err != nil {
		return err
	}
	if int(n) != expected {
		return fmt.Errorf("expected %d approvals, got %d", expected, n)
	}
	return nil
}

func (s *StepsContext) secretShouldHaveVersion(key, env string, version int) error {
	var secret model.Secret
	if err := s.tc.DB.Where("key = ? AND environment = ?", key, env).First(&secret).Error; err != nil {
		return fmt.Errorf("secret %s/%s: %w", env, key, err)
	}
	if secret.Version != version {
		return fmt.Errorf("expected version %d, got %d", version, secret.Version)
	}
	if len(secret.Ciphertext) == 0 || len(secret.Nonce) == 0 {
		return fmt.Errorf("secret %s/%s is not sealed", env, key)
	}
	return nil
}

func (s *StepsContext) secretShouldNotExist(key, env string) error {
	var n int64
	if err := s.tc.DB.Model(&model.Secret{}).Where("key = ? AND environment = ?", key, env).Count(&n).Error; err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("secret %s/%s exists", env, key)
	}
	return nil
}

func (s *StepsContext) auditLogShouldContain(expected int, action string) error {
	var n int
	err := s.tc.AuditDB.QueryRow(`SELECT count(*) FROM audit_events WHERE action = $1`, action).Scan(&n)
	if err != nil {
		return err
	}
	if n != expected {
		return fmt.Errorf("expected %d %s records, got %d", expected, action, n)
	}
	return nil
}

func (s *StepsContext) auditChainShouldVerify() error {
	result, err := s.tc.AuditStore.Verify(context.Background())
	if err != nil {
		return err
	}
	if result.Checked == 0 {
		return fmt.Errorf("audit log is empty")
	}
	return nil
}

func (s *StepsContext) notificationShouldHaveBeenSent(name string) error {
	for _, n := range s.server.Notifier.Names() {
		if n == name {
			return nil
		}
	}
	return fmt.Errorf("no %s notification among %v", name, s.server.Notifier.Names())
}
