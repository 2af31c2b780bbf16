package email

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_ConsoleMode(t *testing.T) {
	svc := NewService("from@example.com", "Career Coach", "", logger.Nop())
	assert.False(t, svc.useSendGrid)
	assert.Equal(t, "from@example.com", svc.fromEmail)
	assert.Equal(t, "Career Coach", svc.fromName)
}

func TestNewService_SendGridMode(t *testing.T) {
	svc := NewService("from@example.com", "Career Coach", "SG.test-key", logger.Nop())
	assert.True(t, svc.useSendGrid)
	assert.Equal(t, "SG.test-key", svc.sendGridKey)
}

func TestSendRawEmail_ConsoleMode(t *testing.T) {
	svc := NewService("from@example.com", "Career Coach", "", logger.Nop())

	err := svc.SendRawEmail("user@example.com", "Test User", "Welcome", "<p>hi</p>", "hi")
	assert.NoError(t, err, "Console mode should not error")
}

func TestSendRawEmail_RequiresRecipient(t *testing.T) {
	svc := NewService("from@example.com", "Career Coach", "", logger.Nop())

	assert.Error(t, svc.SendRawEmail("", "Test User", "Welcome", "<p>hi</p>", "hi"))
}

func TestSendRawEmail_SendGrid(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	svc := NewService("from@example.com", "Career Coach", "SG.test-key", logger.Nop())
	svc.sendGridHost = server.URL

	err := svc.SendRawEmail("user@example.com", "Test User", "Welcome to Premium", "<p>hi</p>", "hi")
	require.NoError(t, err)

	assert.Equal(t, "/v3/mail/send", gotPath)
	assert.Equal(t, "Bearer SG.test-key", gotAuth)
	assert.Equal(t, "Welcome to Premium", gotBody["subject"])
}

func TestSendRawEmail_SendGridErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer server.Close()

	svc := NewService("from@example.com", "Career Coach", "SG.bad", logger.Nop())
	svc.sendGridHost = server.URL

	err := svc.SendRawEmail("user@example.com", "Test User", "Welcome", "<p>hi</p>", "hi")
	assert.Error(t, err)
}
