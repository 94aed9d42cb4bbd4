package flowbot

// Version is the release of flowbot. Release builds set it with
// -ldflags "-X github.com/aretw0/flowbot.Version=...".
var Version = "0.1.0-dev"
