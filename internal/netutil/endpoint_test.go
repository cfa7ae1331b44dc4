package netutil

import "testing"

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "ip_port", in: "192.168.1.50:8080", wantErr: false},
		{name: "hostname_port", in: "esp32-gh1.local:80", wantErr: false},
		{name: "missing_port", in: "192.168.1.50", wantErr: true},
		{name: "empty_host", in: ":8080", wantErr: true},
		{name: "port_zero", in: "host:0", wantErr: true},
		{name: "port_too_large", in: "host:70000", wantErr: true},
		{name: "not_a_port", in: "host:pump", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpoint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestHostOnly(t *testing.T) {
	if got := HostOnly("192.168.1.50:8080"); got != "192.168.1.50" {
		t.Errorf("got %q, want 192.168.1.50", got)
	}
	if got := HostOnly("bare-host"); got != "bare-host" {
		t.Errorf("got %q, want bare-host", got)
	}
}

func TestBaseURL(t *testing.T) {
	if got := BaseURL("192.168.1.50:8080"); got != "http://192.168.1.50:8080" {
		t.Errorf("got %q", got)
	}
	if got := BaseURL("https://actuator.example:443/"); got != "https://actuator.example:443" {
		t.Errorf("got %q", got)
	}
}
