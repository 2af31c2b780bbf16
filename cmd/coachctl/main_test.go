package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func statusServer(t *testing.T, paidAfter int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.True(t, strings.HasPrefix(r.URL.Path, "/api/v1/payments/status/"))

		raw := billing.RawStatus{Status: "open", PaymentStatus: "unpaid", Currency: "usd"}
		if n := atomic.AddInt32(&calls, 1); paidAfter > 0 && n >= paidAfter {
			raw = billing.RawStatus{Status: "complete", PaymentStatus: "paid", AmountTotal: 2999, Currency: "usd"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(raw)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "paid maps to a package",
			args:     []string{"--status", "complete", "--payment-status", "PAID", "--amount", "2999"},
			expected: []string{"Classification: paid", "$29.99", "Package:        monthly"},
		},
		{
			name:     "expired",
			args:     []string{"--status", "expired", "--payment-status", "unpaid"},
			expected: []string{"Classification: expired"},
		},
		{
			name:     "unknown stays pending",
			args:     []string{"--status", "open", "--payment-status", "processing"},
			expected: []string{"Classification: pending"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"classify"}, tt.args...)...)
			require.NoError(t, err)
			for _, want := range tt.expected {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestPackages(t *testing.T) {
	out, err := execute(t, "packages")
	require.NoError(t, err)
	assert.Contains(t, out, "monthly")
	assert.Contains(t, out, "yearly")

	out, err = execute(t, "packages", "--json")
	require.NoError(t, err)

	var pkgs []billing.Package
	require.NoError(t, json.Unmarshal([]byte(out), &pkgs))
	assert.Equal(t, billing.Packages(), pkgs)
}

func TestConfirm_Paid(t *testing.T) {
	srv, calls := statusServer(t, 2)

	out, err := execute(t, "confirm", "cs_test_123",
		"--api-url", srv.URL, "--token", "test-token",
		"--attempts", "5", "--interval", "1ms")

	require.NoError(t, err)
	assert.Contains(t, out, "Outcome:   paid")
	assert.Contains(t, out, "Attempts:  2")
	assert.Contains(t, out, "$29.99")
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestConfirm_TimesOut(t *testing.T) {
	srv, calls := statusServer(t, 0)

	out, err := execute(t, "confirm", "cs_test_456",
		"--api-url", srv.URL, "--token", "test-token",
		"--attempts", "3", "--interval", "1ms")

	require.ErrorIs(t, err, errNotPaid)
	assert.Contains(t, out, "Outcome:   timed_out")
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestConfirm_RequiresIdentity(t *testing.T) {
	_, err := execute(t, "confirm", "cs_test_789")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user-id")
}

func TestPrintSummary(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	printSummary(cmd, jobs.Summary{
		Examined: 3,
		Results:  map[string]int{jobs.ReconcileApplied: 2, jobs.ReconcilePending: 1},
	}, 0)
	assert.Contains(t, out.String(), "Examined: 3")
	assert.Contains(t, out.String(), "applied")
	assert.NotContains(t, out.String(), "closed")

	out.Reset()
	printSummary(cmd, jobs.Summary{Skipped: true}, 0)
	assert.Contains(t, out.String(), "Skipped")
}
