package version

// Version is set at build time via -ldflags.
var Version = "dev"

// Info is the payload served by the /version endpoint.
type Info struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// Get returns the version payload for a service name.
func Get(service string) Info {
	return Info{Service: service, Version: Version}
}
