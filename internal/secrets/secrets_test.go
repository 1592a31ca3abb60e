package secrets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspecta/points-deployer/internal/config"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeSecretsManager struct {
	in  *secretsmanager.GetSecretValueInput
	out *secretsmanager.GetSecretValueOutput
	err error
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestAWSProvider_PrivateKey(t *testing.T) {
	tests := []struct {
		name    string
		out     *secretsmanager.GetSecretValueOutput
		err     error
		want    string
		wantErr error
	}{
		{
			name: "field 1",
			out:  &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"1":"` + testKey + `"}`)},
			want: testKey,
		},
		{
			name:    "no secret string",
			out:     &secretsmanager.GetSecretValueOutput{},
			wantErr: ErrSecretNotFound,
		},
		{
			name:    "not json",
			out:     &secretsmanager.GetSecretValueOutput{SecretString: aws.String("plain")},
			wantErr: ErrSecretMalformed,
		},
		{
			name:    "missing field",
			out:     &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"2":"x"}`)},
			wantErr: ErrSecretMalformed,
		},
		{
			name:    "api failure",
			err:     errors.New("AccessDeniedException"),
			wantErr: ErrSecretRetrieval,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeSecretsManager{out: tc.out, err: tc.err}
			p := NewAWSProviderWithClient(api, "deployer", "1")

			got, err := p.PrivateKey(context.Background())
			require.NotNil(t, api.in)
			assert.Equal(t, "deployer", aws.ToString(api.in.SecretId))
			assert.Equal(t, VersionStageCurrent, aws.ToString(api.in.VersionStage))

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAWSProvider_ErrorKeepsCause(t *testing.T) {
	cause := errors.New("AccessDeniedException")
	p := NewAWSProviderWithClient(&fakeSecretsManager{err: cause}, "deployer", "1")

	_, err := p.PrivateKey(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "AccessDeniedException")
}

func kvResponse(key string) string {
	return `{"request_id":"r1","lease_id":"","renewable":false,"lease_duration":0,` +
		`"data":{"data":{"1":"` + key + `"},` +
		`"metadata":{"created_time":"2024-05-01T10:00:00Z","custom_metadata":null,"deletion_time":"","destroyed":false,"version":3}},` +
		`"wrap_info":null,"warnings":null,"auth":null}`
}

func TestBaoProvider_PrivateKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		switch r.URL.Path {
		case "/v1/secret/data/deployer":
			_, _ = w.Write([]byte(kvResponse(testKey)))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
	defer server.Close()

	p, err := NewBaoProvider(server.URL, "test-token", "secret/deployer", "1")
	require.NoError(t, err)
	got, err := p.PrivateKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	missing, err := NewBaoProvider(server.URL, "test-token", "secret/other", "1")
	require.NoError(t, err)
	_, err = missing.PrivateKey(context.Background())
	assert.ErrorIs(t, err, ErrSecretNotFound)

	denied, err := NewBaoProvider(server.URL, "wrong", "secret/deployer", "1")
	require.NoError(t, err)
	_, err = denied.PrivateKey(context.Background())
	assert.ErrorIs(t, err, ErrSecretRetrieval)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestBaoProvider_Namespace(t *testing.T) {
	var namespaces []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		namespaces = append(namespaces, r.Header.Get("X-Vault-Namespace"))
		_, _ = w.Write([]byte(kvResponse(testKey)))
	}))
	defer server.Close()

	p, err := ForSource(context.Background(), config.SignerBao, config.FromMap(map[string]string{
		config.BaoAddr:       server.URL,
		config.BaoToken:      "test-token",
		config.BaoSecretPath: "secret/deployer",
		config.BaoNamespace:  "aspecta/deploy",
	}))
	require.NoError(t, err)
	_, err = p.PrivateKey(context.Background())
	require.NoError(t, err)

	root, err := NewBaoProvider(server.URL, "test-token", "secret/deployer", "1", WithBaoNamespace(""))
	require.NoError(t, err)
	_, err = root.PrivateKey(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"aspecta/deploy", ""}, namespaces)
}

func TestNewBaoProvider_InvalidPath(t *testing.T) {
	_, err := NewBaoProvider("http://localhost:8200", "t", "deployer", "1")
	assert.ErrorIs(t, err, ErrSecretMalformed)
}

func TestSplitKVPath(t *testing.T) {
	mount, path, err := SplitKVPath("/secret/aspecta/deployer/")
	require.NoError(t, err)
	assert.Equal(t, "secret", mount)
	assert.Equal(t, "aspecta/deployer", path)

	for _, bad := range []string{"", "deployer", "secret/", "/deployer"} {
		_, _, err := SplitKVPath(bad)
		assert.ErrorIs(t, err, ErrSecretMalformed, bad)
	}
}

func TestKeyFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", ".deployer-key")

	require.NoError(t, WriteKeyFile(path, testKey))
	assert.True(t, FileExists(path))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	got, err := KeyFile(path).PrivateKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
}

func TestKeyFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadKeyFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrSecretNotFound)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("OTHER=1\n"), 0600))
	_, err = ReadKeyFile(empty)
	assert.ErrorIs(t, err, ErrSecretMalformed)

	assert.Error(t, WriteKeyFile(filepath.Join(dir, "k"), "  "))
}

func TestStatic(t *testing.T) {
	got, err := Static(" " + testKey + " ").PrivateKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = Static("").PrivateKey(context.Background())
	assert.ErrorIs(t, err, ErrSecretNotFound)
}
