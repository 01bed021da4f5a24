package quorum

import (
	"os"
	"strings"

	"github.com/torvus-labs/torvus-console/pkg/config"
)

// SingleApproverOverride reports whether the development single-approver
// relaxation is active for this process. An unset TORVUS_ENV counts as
// production.
func SingleApproverOverride() bool {
	if !devQuorumBuild {
		return false
	}
	env := strings.ToLower(strings.TrimSpace(os.Getenv("TORVUS_ENV")))
	if env == "" || env == config.EnvProduction {
		return false
	}
	return os.Getenv("TORVUS_DEV_SINGLE_APPROVER") == "1"
}
