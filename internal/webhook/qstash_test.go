package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/internal/webhook"
)

const (
	currentKey = "sig_current_key"
	nextKey    = "sig_next_key"
	endpoint   = "https://api.example.com/qstash/update_prices"
)

// signToken builds the delivery JWT the way the queue provider does:
// base64url header and claims, HMAC-SHA256 signature over "h.p".
func signToken(t *testing.T, key string, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signed := base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(signed))
	return signed + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func validClaims(body []byte, now time.Time) map[string]any {
	bodyHash := sha256.Sum256(body)
	return map[string]any{
		"iss":  "Upstash",
		"sub":  endpoint,
		"nbf":  now.Add(-time.Minute).Unix(),
		"exp":  now.Add(5 * time.Minute).Unix(),
		"body": base64.URLEncoding.EncodeToString(bodyHash[:]),
	}
}

func forbiddenReason(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	require.Equal(t, apperrors.ErrCodeForbidden, appErr.Code)
	return appErr.Message
}

func TestQStashVerifier_Verify(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"user_id":"00000000-0000-0000-0000-000000000001"}`)
	v := webhook.NewQStashVerifier(currentKey, nextKey)

	t.Run("current key accepted", func(t *testing.T) {
		token := signToken(t, currentKey, validClaims(body, now))
		assert.NoError(t, v.Verify(token, body, endpoint, now))
	})

	t.Run("next key accepted after rotation", func(t *testing.T) {
		token := signToken(t, nextKey, validClaims(body, now))
		assert.NoError(t, v.Verify(token, body, endpoint, now))
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		token := signToken(t, "some-other-key", validClaims(body, now))
		assert.Equal(t, "Invalid signature", forbiddenReason(t, v.Verify(token, body, endpoint, now)))
	})

	t.Run("signature with padding accepted", func(t *testing.T) {
		token := signToken(t, currentKey, validClaims(body, now))
		assert.NoError(t, v.Verify(token+"==", body, endpoint, now))
	})

	t.Run("malformed token rejected", func(t *testing.T) {
		assert.Equal(t, "Invalid signature format", forbiddenReason(t, v.Verify("garbage", body, endpoint, now)))
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		token := signToken(t, currentKey, validClaims(body, now))
		tampered := []byte(`{"user_id":"00000000-0000-0000-0000-000000000002"}`)
		assert.Equal(t, "Body hash doesn't match", forbiddenReason(t, v.Verify(token, tampered, endpoint, now)))
	})

	t.Run("wrong issuer rejected", func(t *testing.T) {
		claims := validClaims(body, now)
		claims["iss"] = "someone-else"
		token := signToken(t, currentKey, claims)
		assert.Contains(t, forbiddenReason(t, v.Verify(token, body, endpoint, now)), "Invalid issuer")
	})

	t.Run("wrong subject rejected", func(t *testing.T) {
		claims := validClaims(body, now)
		claims["sub"] = "https://api.example.com/qstash/other"
		token := signToken(t, currentKey, claims)
		assert.Contains(t, forbiddenReason(t, v.Verify(token, body, endpoint, now)), "Invalid subject")
	})

	t.Run("expired token rejected", func(t *testing.T) {
		claims := validClaims(body, now)
		claims["exp"] = now.Add(-time.Minute).Unix()
		token := signToken(t, currentKey, claims)
		assert.Equal(t, "Token has expired", forbiddenReason(t, v.Verify(token, body, endpoint, now)))
	})

	t.Run("token from the future rejected", func(t *testing.T) {
		claims := validClaims(body, now)
		claims["nbf"] = now.Add(time.Minute).Unix()
		token := signToken(t, currentKey, claims)
		assert.Equal(t, "Token is not valid yet", forbiddenReason(t, v.Verify(token, body, endpoint, now)))
	})
}
