// config_test.go tests config files
package config

import (
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	//extract configuration
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	} else {
		// lets check the port
		if conf.Port != "3030" {
			t.Errorf("config port is not the expected %s", conf.Port)
		}
		// the network and the sync interval
		if conf.Network != "story" || conf.SyncMinutes != 30 {
			t.Errorf("network/sync do not match the expected %s %d", conf.Network, conf.SyncMinutes)
		}
		// and the seeded dapps
		if len(conf.Dapps) != 3 {
			t.Errorf("dapps do not match the expected %v", conf.Dapps)
		} else {
			if conf.Dapps[0].Slug != "story-hunt" || conf.Dapps[1].Slug != "color-app" || conf.Dapps[2].Slug != "verio" {
				t.Errorf("dapps do not match the expected %v", conf.Dapps)
			}
		}
	}
}

// TestDefaults checks the defaults are returned when no file is given
func TestDefaults(t *testing.T) {
	conf, err := ExtractConfiguration("")
	if err != nil {
		t.Errorf("Error extracting default config:%e\n", err)
	}
	if conf.DbType != DBTypeDefault || conf.CutoffHours != CutoffHoursDefault {
		t.Errorf("defaults do not match:%+v", conf)
	}
}
