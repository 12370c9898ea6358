package obs

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/orgkeep/backend/internal/apperr"
)

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":              nil,
		"invalid_token":   apperr.New(apperr.KindInvalidToken, "invalid refresh token"),
		"partial_failure": &apperr.PartialFailure{Step: apperr.StepLinkUser},
		"error":           errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, outcome(err))
	}
}

func TestSessionEventCounts(t *testing.T) {
	before := testutil.ToFloat64(sessionEventsTotal.WithLabelValues("rotate", "invalid_token"))
	SessionEvent("rotate", apperr.ErrInvalidToken)
	after := testutil.ToFloat64(sessionEventsTotal.WithLabelValues("rotate", "invalid_token"))

	assert.Equal(t, before+1, after)
}
