package push

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Azarenkov/aitu-keeper/internal/errs"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

type fcmFake struct {
	key        *rsa.PublicKey
	tokenHits  atomic.Int32
	sendStatus int
	last       fcmRequest
}

func (f *fcmFake) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != jwtBearerGrant {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(*jwt.Token) (any, error) { return f.key, nil },
			jwt.WithValidMethods([]string{"RS256"}))
		if err != nil || claims["scope"] != messagingScope || claims["iss"] != "svc@p.iam.gserviceaccount.com" ||
			claims["aud"] != "http://"+r.Host+"/token" || token.Header["kid"] != "kid-1" {
			http.Error(w, "bad assertion", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/projects/proj/messages:send", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.last); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.sendStatus != 0 {
			http.Error(w, `{"error":{"status":"UNREGISTERED"}}`, f.sendStatus)
			return
		}
		_, _ = w.Write([]byte(`{"name":"projects/proj/messages/1"}`))
	})
	return mux
}

func testKeyJSON(t *testing.T, tokenURI string) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	raw, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "proj",
		"private_key_id": "kid-1",
		"private_key":    string(pemKey),
		"client_email":   "svc@p.iam.gserviceaccount.com",
		"token_uri":      tokenURI,
	})
	require.NoError(t, err)
	return raw, key
}

func newFCM(t *testing.T) (*FCMSender, *fcmFake) {
	t.Helper()
	fake := &fcmFake{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	raw, key := testKeyJSON(t, srv.URL+"/token")
	fake.key = &key.PublicKey
	sa, err := ParseServiceAccount(raw)
	require.NoError(t, err)

	s, err := NewFCMSender(sa, FCMOptions{Endpoint: srv.URL + "/"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, fake
}

func TestFCMSender_Send(t *testing.T) {
	s, fake := newFCM(t)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, "device-1", "New course", "Physics"))
	require.Equal(t, "device-1", fake.last.Message.Token)
	require.Equal(t, "New course", fake.last.Message.Notification.Title)
	require.Equal(t, "Physics", fake.last.Message.Notification.Body)

	require.NoError(t, s.Send(ctx, "device-1", "t", "b"))
	require.Equal(t, int32(1), fake.tokenHits.Load(), "access token is reused")
}

func TestFCMSender_Rejected(t *testing.T) {
	s, fake := newFCM(t)
	fake.sendStatus = http.StatusNotFound

	err := s.Send(context.Background(), "stale", "t", "b")
	require.ErrorIs(t, err, errs.ErrSend)
	require.Contains(t, err.Error(), "UNREGISTERED")
}

func TestFCMSender_TokenExchangeRejected(t *testing.T) {
	s, fake := newFCM(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	fake.key = &other.PublicKey

	err = s.Send(context.Background(), "device-1", "t", "b")
	require.ErrorIs(t, err, errs.ErrSend)
	require.Equal(t, int32(1), fake.tokenHits.Load())
	require.Empty(t, fake.last.Message.Token, "nothing is sent without an access token")
}

func TestNewFCMSender_Validation(t *testing.T) {
	_, err := NewFCMSender(nil, FCMOptions{}, zaptest.NewLogger(t))
	require.Error(t, err)

	raw, _ := testKeyJSON(t, "")
	sa, err := ParseServiceAccount(raw)
	require.NoError(t, err)
	require.Equal(t, defaultTokenURI, sa.TokenURI)

	sa.ProjectID = ""
	_, err = NewFCMSender(sa, FCMOptions{}, zaptest.NewLogger(t))
	require.Error(t, err)

	s, err := NewFCMSender(sa, FCMOptions{ProjectID: "other"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, "https://fcm.googleapis.com/v1/projects/other/messages:send", s.url)
}

func TestLoadServiceAccount(t *testing.T) {
	raw, _ := testKeyJSON(t, "https://oauth2.example/token")

	sa, err := LoadServiceAccount("", "")
	require.NoError(t, err)
	require.Nil(t, sa)

	sa, err = LoadServiceAccount(base64.StdEncoding.EncodeToString(raw), "")
	require.NoError(t, err)
	require.Equal(t, "proj", sa.ProjectID)

	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	sa, err = LoadServiceAccount("", path)
	require.NoError(t, err)
	require.Equal(t, "kid-1", sa.PrivateKeyID)

	_, err = LoadServiceAccount("%%%", "")
	require.Error(t, err)

	_, err = ParseServiceAccount([]byte(`{"client_email":"x","private_key":"not pem"}`))
	require.Error(t, err)
}

func TestLogSender(t *testing.T) {
	require.NoError(t, NewLogSender(zaptest.NewLogger(t)).Send(context.Background(), "d", "t", "b"))
}
