package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []Email
	err  error
}

func (f *fakeSender) Send(_ context.Context, e Email) (string, error) {
	f.sent = append(f.sent, e)
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"reach me at jane.doe+jobs@example.com please", "jane.doe+jobs@example.com", true},
		{"first a@b.io then c@d.org", "a@b.io", true},
		{"MIXED@Case.COM", "MIXED@Case.COM", true},
		{"no address here", "", false},
		{"almost@there", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractEmail(tt.text)
		assert.Equal(t, tt.want, got, tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
	}
}

func TestNotify_Sends(t *testing.T) {
	f := &fakeSender{}
	s := New(f, "twin@example.com", "owner@example.com")
	require.True(t, s.Enabled())

	s.Notify(context.Background(), "visitor@example.com")

	require.Len(t, f.sent, 1)
	e := f.sent[0]
	assert.Equal(t, "twin@example.com", e.From)
	assert.Equal(t, "owner@example.com", e.To)
	assert.Equal(t, Subject, e.Subject)
	assert.Contains(t, e.HTML, "visitor@example.com")
}

func TestNotify_EscapesHTML(t *testing.T) {
	f := &fakeSender{}
	New(f, "a@b.co", "c@d.co").Notify(context.Background(), "<b>x@y.co</b>")
	require.Len(t, f.sent, 1)
	assert.NotContains(t, f.sent[0].HTML, "<b>x")
}

func TestNotify_VendorFailureSwallowed(t *testing.T) {
	f := &fakeSender{err: errors.New("422 invalid from address")}
	s := New(f, "twin@example.com", "owner@example.com")

	assert.NotPanics(t, func() { s.Notify(context.Background(), "v@example.com") })
	assert.Len(t, f.sent, 1)
}

func TestNotify_DisabledWithoutConfig(t *testing.T) {
	f := &fakeSender{}
	New(f, "twin@example.com", "").Notify(context.Background(), "v@example.com")
	assert.Empty(t, f.sent)

	s := New(nil, "twin@example.com", "owner@example.com")
	assert.False(t, s.Enabled())
	assert.NotPanics(t, func() { s.Notify(context.Background(), "v@example.com") })
}

func TestResendSender(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"49a3999c-0ce1-4ea6-ab68-afcd6dc2e794"}`)
	}))
	defer srv.Close()

	s := NewResendSender("re_test")
	s.client = resend.NewCustomClient(srv.Client(), "re_test")
	s.client.BaseURL = mustParse(t, srv.URL+"/")

	id, err := s.Send(context.Background(), Email{From: "a@b.co", To: "c@d.co", Subject: Subject, HTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, "49a3999c-0ce1-4ea6-ab68-afcd6dc2e794", id)
	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, Subject, got["subject"])
	assert.Equal(t, []any{"c@d.co"}, got["to"])
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
