package main

import (
	"strings"
	"testing"

	"github.com/spf13/viper"

	"prefetchd/internal/core"
)

func TestFlagToEnvVar(t *testing.T) {
	if got := flagToEnvVar("download-base-url"); got != "PREFETCHD_DOWNLOAD_BASE_URL" {
		t.Errorf("flagToEnvVar() = %q", got)
	}
}

func TestGenerateEnvExampleContent(t *testing.T) {
	content := generateEnvExampleContent()

	for _, section := range flagSections {
		if !strings.Contains(content, "# "+section.title+"\n") {
			t.Errorf("missing section %q", section.title)
		}
		for _, def := range section.flags {
			if !strings.Contains(content, flagToEnvVar(def.name)+"=") {
				t.Errorf("missing variable for %s", def.name)
			}
		}
	}
}

func TestBuildConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PREFETCHD_DOWNLOAD_BASE_URL", "http://music.local/rest")
	t.Setenv("PREFETCHD_DOWNLOAD_PRELOAD", "5")
	t.Setenv("PREFETCHD_SHUFFLE_FALSE_POSITIVE_RATE", "0.01")
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cfg := buildConfig()

	if cfg.Download.BaseURL != "http://music.local/rest" {
		t.Errorf("BaseURL = %q", cfg.Download.BaseURL)
	}
	if cfg.Download.Preload != 5 {
		t.Errorf("Preload = %d, expected 5", cfg.Download.Preload)
	}
	if cfg.Shuffle.FalsePositiveRate != 0.01 {
		t.Errorf("FalsePositiveRate = %v, expected 0.01", cfg.Shuffle.FalsePositiveRate)
	}
	if cfg.Download.Root != core.DefaultDownloadRoot {
		t.Errorf("Root = %q, expected flag default %q", cfg.Download.Root, core.DefaultDownloadRoot)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestBuildLogger(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "error", "bogus"} {
		if buildLogger(level) == nil {
			t.Errorf("buildLogger(%q) returned nil", level)
		}
	}
}
