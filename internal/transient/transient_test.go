package transient

import "testing"

func TestClassify_TransientMarkers(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"eof", "error during request: EOF"},
		{"connection reset", "read tcp: connection reset by peer"},
		{"broken pipe", "write unix ->docker.sock: broken pipe"},
		{"io timeout", "dial unix docker.sock: i/o timeout"},
		{"tls handshake", "net/http: TLS handshake timeout"},
		{"connection refused", "dial unix docker.sock: connect: connection refused"},
		{"socket missing", "dial unix /home/u/.colima/berth/docker.sock: connect: no such file or directory"},
		{"socket probe missing", "control socket /Users/crew/.colima/berth/docker.sock: no such file or directory"},
		{"context canceled", "context canceled during request"},
		{"deadline", "context deadline exceeded"},
		{"daemon unreachable", "Cannot connect to the Docker daemon at unix:///x/docker.sock"},
		{"closing connection", "use of closed network connection"},
		{"mixed case", "Unexpected EOF while reading response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got != Transient {
				t.Errorf("Classify(%q) = %v, want Transient", tt.text, got)
			}
		})
	}
}

func TestClassify_FatalText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"image missing", `Unable to find image "no-such-image:latest" locally: pull access denied`},
		{"permission denied", "permission denied while trying to connect"},
		{"bad flag", "unknown flag: --bogus"},
		{"name conflict", `Conflict. The container name "/web" is already in use`},
		{"empty", ""},
		{"plain failure", "exit status 125"},
		{"missing binary", "exec: colima: no such file or directory"},
		{"missing config", "open /etc/berth/containers.txt: no such file or directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got != Fatal {
				t.Errorf("Classify(%q) = %v, want Fatal", tt.text, got)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	if Transient.String() != "transient" || Fatal.String() != "fatal" {
		t.Errorf("Kind strings wrong: %v %v", Transient, Fatal)
	}
}
