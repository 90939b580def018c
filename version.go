package pergola

// Version is the library version, surfaced by the CLI and the MCP adapter.
const Version = "0.4.2"
