package proxy

import (
	"embed"
	"strings"
)

//go:embed assets/openapi.json assets/index.html assets/swagger-ui.css assets/swagger-ui-bundle.js assets/favicon.ico
var embeddedAssets embed.FS

func mustReadAsset(name string) []byte {
	b, err := embeddedAssets.ReadFile("assets/" + name)
	if err != nil {
		panic("proxy: missing embedded asset " + name + ": " + err.Error())
	}
	return b
}

// openAPISpecWithServerURL returns the embedded OpenAPI document with its
// servers[0].url field rewritten to the proxy's actual bound address.
func openAPISpecWithServerURL(baseURL string) []byte {
	spec := string(mustReadAsset("openapi.json"))
	return []byte(strings.Replace(spec, `"http://127.0.0.1:0"`, `"`+baseURL+`"`, 1))
}
