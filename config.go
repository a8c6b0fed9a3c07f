package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	apiKey         string
	bind           string
	model          string
	noVideo        bool
	noVoice        bool
	port           int
	prefix         string
	project        string
	rateLimit      int
	redisAddr      string
	redisDB        int
	redisPassword  string
	region         string
	requestTimeout time.Duration
	sessionTimeout time.Duration
	thinkingBudget int
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

// validateBackend checks what every command needs to talk to Gemini.
func (c *Config) validateBackend() error {
	if c.apiKey == "" && c.project == "" {
		return errors.New("a Gemini credential is required: set --api-key or --project")
	}
	if c.requestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout: %s", c.requestTimeout)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rateLimit < 1 {
		return fmt.Errorf("invalid rate limit (must be at least 1): %d", c.rateLimit)
	}
	if c.sessionTimeout <= 0 {
		return fmt.Errorf("invalid session timeout: %s", c.sessionTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// capabilities reports which capture sources the terminal client offers.
func (c *Config) capabilities() Capabilities {
	return Capabilities{Video: !c.noVideo, Audio: !c.noVoice}
}

func (c *Config) backend() BackendConfig {
	return BackendConfig{
		APIKey:         c.apiKey,
		Project:        c.project,
		Region:         c.region,
		Model:          c.model,
		ThinkingBudget: c.thinkingBudget,
		Timeout:        c.requestTimeout,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TWENTYQ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "twentyq",
		Short:         "Play 20 Questions against Gemini with text, image and voice clues.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return Serve(cmd.Context(), cfg)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.apiKey, "api-key", "", "Gemini API key (env: TWENTYQ_API_KEY)")
	pfs.StringVar(&cfg.model, "model", defaultModel, "default Gemini model (env: TWENTYQ_MODEL)")
	pfs.StringVar(&cfg.project, "project", "", "Vertex AI project, used when no API key is set (env: TWENTYQ_PROJECT)")
	pfs.StringVar(&cfg.region, "region", defaultRegion, "Vertex AI region (env: TWENTYQ_REGION)")
	pfs.DurationVar(&cfg.requestTimeout, "request-timeout", defaultRequestTimeout, "timeout for one Gemini turn (env: TWENTYQ_REQUEST_TIMEOUT)")
	pfs.IntVar(&cfg.thinkingBudget, "thinking-budget", defaultThinkingBudget, "thinking token budget per turn (env: TWENTYQ_THINKING_BUDGET)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TWENTYQ_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TWENTYQ_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TWENTYQ_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TWENTYQ_PREFIX)")
	fs.IntVar(&cfg.rateLimit, "rate-limit", 10, "turns per minute allowed per client IP (env: TWENTYQ_RATE_LIMIT)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "share rate limits through this Redis instance (env: TWENTYQ_REDIS_ADDR)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "Redis database number (env: TWENTYQ_REDIS_DB)")
	fs.StringVar(&cfg.redisPassword, "redis-password", "", "Redis password (env: TWENTYQ_REDIS_PASSWORD)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: TWENTYQ_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TWENTYQ_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TWENTYQ_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TWENTYQ_VERSION)")

	bindFlags(v, pfs)
	bindFlags(v, fs)

	cmd.AddCommand(newPlayCmd(cfg, v))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("twentyq v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newPlayCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play in the terminal, without the web server.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateBackend(); err != nil {
				return err
			}
			return Play(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.BoolVar(&cfg.noVideo, "no-video", false, "disable image clues (env: TWENTYQ_NO_VIDEO)")
	fs.BoolVar(&cfg.noVoice, "no-voice", false, "disable voice clues (env: TWENTYQ_NO_VOICE)")
	bindFlags(v, fs)

	return cmd
}

// bindFlags lets TWENTYQ_* environment variables fill flags left unset.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
