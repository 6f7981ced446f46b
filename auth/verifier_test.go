package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("rapd-test-secret")
	testNow    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func sign(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func newTestVerifier(secret SecretSource) *JWTVerifier {
	return NewJWTVerifier(zerolog.Nop(), secret, WithClock(func() time.Time { return testNow }))
}

func TestVerify_Valid(t *testing.T) {
	v := newTestVerifier(StaticSecret(testSecret))
	token := sign(t, testSecret, jwt.MapClaims{
		"_id": "user-1",
		"iat": testNow.Add(-10 * time.Second).Unix(),
		"exp": testNow.Add(86400 * time.Second).Unix(),
	})

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.PrincipalID)
	require.Equal(t, testNow.Add(86400*time.Second).Unix(), claims.ExpiresAt.Unix())
}

func TestVerify_SubjectFallback(t *testing.T) {
	v := newTestVerifier(StaticSecret(testSecret))
	token := sign(t, testSecret, jwt.MapClaims{
		"sub": "user-2",
		"iat": testNow.Unix(),
		"exp": testNow.Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-2", claims.PrincipalID)
}

func TestVerify_ExpiryBoundaries(t *testing.T) {
	v := newTestVerifier(StaticSecret(testSecret))

	tests := []struct {
		name string
		iat  time.Time
		exp  time.Time
		err  error
	}{
		{name: "exp equals now", iat: testNow.Add(-time.Hour), exp: testNow},
		{name: "iat equals now", iat: testNow, exp: testNow.Add(time.Hour)},
		{name: "exp one second ago", iat: testNow.Add(-time.Hour), exp: testNow.Add(-time.Second), err: ErrTokenExpired},
		{name: "iat in the future", iat: testNow.Add(time.Second), exp: testNow.Add(time.Hour), err: ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := sign(t, testSecret, jwt.MapClaims{"_id": "u", "iat": tt.iat.Unix(), "exp": tt.exp.Unix()})
			_, err := v.Verify(context.Background(), token)
			if tt.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestVerify_Invalid(t *testing.T) {
	v := newTestVerifier(StaticSecret(testSecret))
	valid := jwt.MapClaims{"_id": "u", "iat": testNow.Unix(), "exp": testNow.Add(time.Hour).Unix()}

	tests := map[string]string{
		"garbage":       "not-a-token",
		"wrong secret":  sign(t, []byte("other"), valid),
		"missing exp":   sign(t, testSecret, jwt.MapClaims{"_id": "u", "iat": testNow.Unix()}),
		"no principal":  sign(t, testSecret, jwt.MapClaims{"iat": testNow.Unix(), "exp": testNow.Add(time.Hour).Unix()}),
		"alg none":      noneToken(t, valid),
		"empty":         "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func noneToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return tok
}

// blockingSecret never returns, simulating a wedged secret source.
type blockingSecret struct{ release chan struct{} }

func (b blockingSecret) Secret() []byte {
	<-b.release
	return testSecret
}

func TestVerify_Timeout(t *testing.T) {
	src := blockingSecret{release: make(chan struct{})}
	defer close(src.release)

	v := NewJWTVerifier(zerolog.Nop(), src,
		WithClock(func() time.Time { return testNow }),
		WithTimeout(20*time.Millisecond))

	token := sign(t, testSecret, jwt.MapClaims{"_id": "u", "iat": testNow.Unix(), "exp": testNow.Add(time.Hour).Unix()})
	_, err := v.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrVerifyTimeout)
}

func TestSecretFile_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	f, err := NewSecretFile(zerolog.Nop(), path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.Equal(t, []byte("first"), f.Secret())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Watch(ctx)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	require.Eventually(t, func() bool { return string(f.Secret()) == "second" }, 5*time.Second, 10*time.Millisecond)

	// An emptied file keeps the previous secret.
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, "second", string(f.Secret()))
}

func TestSecretFile_Missing(t *testing.T) {
	_, err := NewSecretFile(zerolog.Nop(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
