package discovery

import (
	"testing"
)

func TestInstance_String(t *testing.T) {
	instance := &Instance{
		Name:     "lab",
		Hostname: "lab-box.local.",
		IP:       "192.168.4.16",
		Port:     6000,
	}

	expected := "jsonwire lab (lab-box.local.) at 192.168.4.16:6000"
	if instance.String() != expected {
		t.Errorf("Instance.String() = %v, want %v", instance.String(), expected)
	}
}

func TestInstance_Addr(t *testing.T) {
	tests := []struct {
		name     string
		instance *Instance
		expected string
	}{
		{
			name:     "IPv4",
			instance: &Instance{IP: "192.168.4.16", Port: 6000},
			expected: "192.168.4.16:6000",
		},
		{
			name:     "IPv6 is bracketed",
			instance: &Instance{IP: "fe80::1", Port: 7000},
			expected: "[fe80::1]:7000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.instance.Addr(); got != tt.expected {
				t.Errorf("Instance.Addr() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestInstance_GetMetadata(t *testing.T) {
	instance := &Instance{
		Metadata: map[string]string{
			"version": "1.2.0",
			"proto":   "jsonwire/1",
		},
	}

	if got := instance.GetMetadata("version"); got != "1.2.0" {
		t.Errorf("GetMetadata(version) = %q, want %q", got, "1.2.0")
	}
	if got := instance.GetMetadata("missing"); got != "" {
		t.Errorf("GetMetadata(missing) = %q, want empty", got)
	}

	empty := &Instance{}
	if got := empty.GetMetadata("version"); got != "" {
		t.Errorf("GetMetadata on nil metadata = %q, want empty", got)
	}
}
