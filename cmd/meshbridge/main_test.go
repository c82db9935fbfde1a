package main

import (
	"context"
	"testing"

	"github.com/nerrad567/meshbridge-core/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge-core/internal/registry"
)

func TestLoadHomesUpsertsDevicesAndGroups(t *testing.T) {
	reg := registry.New(registry.Config{MinKelvin: 2000, MaxKelvin: 7000})

	homes := []config.HomeConfig{
		{
			ID: "home-1",
			Devices: []config.DeviceConfig{
				{CyncID: "1", Name: "Lamp", TypeCode: 55, MAC: "AA:BB:CC:DD:EE:FF", Capabilities: []string{"power", "brightness"}},
			},
			Groups: []config.GroupConfig{
				{GroupID: "g1", Name: "Living Room", MemberIDs: []string{"home-1/1"}},
			},
		},
	}

	if err := loadHomes(context.Background(), reg, homes); err != nil {
		t.Fatalf("loadHomes: %v", err)
	}

	d, err := reg.GetDevice("home-1/1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if d.Name != "Lamp" || !d.HasCapability(registry.Capability("brightness")) {
		t.Fatalf("device not upserted correctly: %+v", d)
	}

	g, err := reg.GetGroup("home-1/g1")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if len(g.MemberIDs) != 1 || g.MemberIDs[0] != "home-1/1" {
		t.Fatalf("group not upserted correctly: %+v", g)
	}
}

func TestLoadDeviceTLSConfigRejectsMissingFiles(t *testing.T) {
	_, err := loadDeviceTLSConfig(config.TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	if err == nil {
		t.Fatal("expected error for missing certificate files")
	}
}
