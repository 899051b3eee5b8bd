// File: internal/controller/keywords.go
package controller

import "strings"

// internetKeywords marks commands whose target application is useless
// without external connectivity: browsers, mail, chat, streaming. Matching
// is case-insensitive substring, same as the command text they appear in.
var internetKeywords = []string{
	"chrome",
	"firefox",
	"edge",
	"browser",
	"outlook",
	"email",
	"teams",
	"discord",
	"steam",
	"spotify",
	"youtube",
	"google",
	"internet",
	"online",
	"web",
	"gmail",
	"facebook",
	"twitter",
}

// NeedsConnectivity reports whether the command text targets a
// network-dependent application. Offline-capable commands never wait on
// the connectivity monitor.
func NeedsConnectivity(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range internetKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
