package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"Soundlytics/pkg/transport"
)

func TestConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()

	if got := viper.GetString("addr"); got != ":4000" {
		t.Errorf("addr default = %q", got)
	}
	if got := viper.GetDuration("poll_interval"); got != 5*time.Minute {
		t.Errorf("poll_interval default = %v", got)
	}
	if got := viper.GetDuration("request_timeout"); got != 60*time.Second {
		t.Errorf("request_timeout default = %v", got)
	}
	if got := viper.GetString("database_path"); got != "soundlytics.db" {
		t.Errorf("database_path default = %q", got)
	}
}

func TestCatalogFactoryReusesPerUserTransport(t *testing.T) {
	f := &catalogFactory{transports: map[string]*transport.Client{}}

	a := f.transportFor("u1")
	if a == nil {
		t.Fatal("nil transport")
	}
	if b := f.transportFor("u1"); b != a {
		t.Error("same user must reuse the transport and its rate limiter")
	}
	if c := f.transportFor("u2"); c == a {
		t.Error("different users must not share a rate limiter")
	}
}
