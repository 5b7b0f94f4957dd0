package version

// Version is the current version of the ECHO client and server.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/Siddharth-777/ECHO/internal/version.Version=v1.0.0'"
var Version = "dev"
