package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/junnnnnw00/shinbo-notification/internal/source"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STORE_BACKEND", "REDIS_URL", "REDIS_KEY_PREFIX", "DATABASE_URL",
		"FIREBASE_CREDENTIALS_JSON", "FIREBASE_DATABASE_URL", "PUSH_TRANSPORT",
		"VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY", "VAPID_SUBJECT", "PUSH_TTL_SECONDS",
		"NTFY_TOPIC_URL", "NTFY_TOKEN", "DISCORD_WEBHOOK_URL", "WEBHOOK_URL", "WEBHOOK_TOKEN",
		"DRY_RUN", "STARTUP_JITTER", "HTTP_TIMEOUT", "SOURCES_FILE",
		"PROMETHEUS_PUSHGATEWAY_URL", "PROMETHEUS_JOB_NAME", "PROMETHEUS_GROUPING_KEY",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIREBASE_CREDENTIALS_JSON", `{"type":"service_account"}`)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StoreRedis, cfg.StoreBackend)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.Equal(t, "shinbo:", cfg.RedisKeyPrefix)
	require.Equal(t, TransportFCM, cfg.PushTransport)
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	require.Equal(t, "shinbo-notifier", cfg.Metrics.JobName)
	require.False(t, cfg.DryRun)
	require.True(t, cfg.NeedsFirebase())
}

func TestLoadMissingCredentials(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingCredentials)

	t.Setenv("DRY_RUN", "true")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.DryRun)
	require.False(t, cfg.NeedsFirebase())
}

func TestLoadWebPush(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUSH_TRANSPORT", "webpush")

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingCredentials)

	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	t.Setenv("PUSH_TTL_SECONDS", "3600")
	t.Setenv("STARTUP_JITTER", "30")
	t.Setenv("HTTP_TIMEOUT", "20s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "mailto:admin@localhost", cfg.VAPIDSubject)
	require.Equal(t, 3600, cfg.PushTTLSeconds)
	require.Equal(t, 30*time.Second, cfg.StartupJitter)
	require.Equal(t, 20*time.Second, cfg.HTTPTimeout)
	require.False(t, cfg.NeedsFirebase())
}

func TestLoadStoreBackends(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "postgres without url", env: map[string]string{"STORE_BACKEND": "postgres"}, wantErr: true},
		{name: "postgres", env: map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": "postgres://localhost/shinbo"}},
		{name: "firebase without database url", env: map[string]string{"STORE_BACKEND": "firebase"}, wantErr: true},
		{name: "firebase", env: map[string]string{"STORE_BACKEND": "firebase", "FIREBASE_DATABASE_URL": "https://x.firebaseio.com"}},
		{name: "unknown", env: map[string]string{"STORE_BACKEND": "etcd"}, wantErr: true},
		{name: "unknown transport", env: map[string]string{"PUSH_TRANSPORT": "sms"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("FIREBASE_CREDENTIALS_JSON", `{"type":"service_account"}`)
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			_, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDefaultSourcesBuild(t *testing.T) {
	sources := DefaultSources()
	require.NotEmpty(t, sources)

	ids := map[string]bool{}
	for _, cfg := range sources {
		require.False(t, ids[cfg.ID], "duplicate source id %s", cfg.ID)
		ids[cfg.ID] = true

		_, err := source.New(cfg, source.Options{})
		require.NoError(t, err, cfg.ID)
	}

	ulsan := sources[0]
	require.Equal(t, "ulsan", ulsan.ID)
	require.Equal(t, "ntc", ulsan.HTML.PinnedClass)
}

func TestLoadSourcesEmptyPath(t *testing.T) {
	sources, err := LoadSources("")
	require.NoError(t, err)
	require.Equal(t, DefaultSources(), sources)
}

func TestLoadSourcesWithLocalOverride(t *testing.T) {
	dir := t.TempDir()
	base := `{
  // agencies watched in production
  sources: {
    ulsan: {
      name: "울산신용보증재단",
      kind: "static-html",
      html: {
        page_url: "https://www.ulsanshinbo.co.kr/04_notice/?mcode=0404010000",
        table_selector: "div.board-text table tbody",
        id_selector: "td.num",
        title_selector: "td.link a",
        pinned_class: "ntc",
      },
    },
    busan: {
      name: "부산",
      kind: "stateful-api",
      api: {region_url: "https://a/region", region_code: "26", list_url: "https://a/list", ajax_url: "https://a/ajax",
            id_field: "seq", title_field: "title", status_field: "status", active_status: "ing"},
    },
  },
}`
	local := `{
  sources: {
    busan: {id: "busan", name: "부산 (staging)", kind: "stateful-api",
            api: {region_url: "https://staging/region", region_code: "26", list_url: "https://staging/list",
                  ajax_url: "https://staging/ajax", method: "POST", id_field: "seq", title_field: "title",
                  status_field: "status", active_status: "ing"}},
    daegu: {name: "대구", kind: "rss"},
  },
}`
	path := filepath.Join(dir, "sources.json5")
	require.NoError(t, os.WriteFile(path, []byte(base), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.local.json5"), []byte(local), 0o600))

	sources, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	require.Equal(t, []string{"busan", "daegu", "ulsan"}, []string{sources[0].ID, sources[1].ID, sources[2].ID})

	busan := sources[0]
	require.Equal(t, "부산 (staging)", busan.Name)
	require.Equal(t, "https://staging/region", busan.API.RegionURL)
	require.Equal(t, "POST", busan.API.Method)

	require.Equal(t, source.Kind("rss"), sources[1].Kind)
	_, err = source.New(sources[1], source.Options{})
	require.ErrorIs(t, err, source.ErrUnknownKind)

	require.Equal(t, "ntc", sources[2].HTML.PinnedClass)
}

func TestLoadSourcesOnlyLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.local.json5"), []byte(`{sources: {x: {kind: "static-html"}}}`), 0o600))

	sources, err := LoadSources(filepath.Join(dir, "sources.json5"))
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "x", sources[0].ID)
}

func TestLoadSourcesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSources(filepath.Join(dir, "missing.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)

	broken := filepath.Join(dir, "broken.json5")
	require.NoError(t, os.WriteFile(broken, []byte(`{sources: [`), 0o600))
	_, err = LoadSources(broken)
	require.Error(t, err)
}

func TestLocalName(t *testing.T) {
	require.Equal(t, filepath.Join("conf", "sources.local.json5"), localName(filepath.Join("conf", "sources.json5")))
	require.Equal(t, "sources.local", localName("sources"))
}
