package version

// Version is the current version of the PeerDrop CLI.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/radek00/PeerDrop/internal/version.Version=v1.0.0'"
var Version = "dev"
