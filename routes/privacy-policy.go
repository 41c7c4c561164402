package routes

import (
	"fmt"
	"net/http"
)

// PrivacyPolicyHandler serves the Privacy Policy content
func PrivacyPolicyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")

	html := `
	<!DOCTYPE html>
	<html lang="en">
	<head>
		<meta charset="UTF-8">
		<meta name="viewport" content="width=device-width, initial-scale=1.0">
		<title>Privacy Policy</title>
	</head>
	<body>
		<h1>Privacy Policy</h1>
		<p>Klymo pairs you with another verified person for an anonymous one-to-one chat.</p>
		<p>Your device is identified by a random device id. We store a nickname, short bio, pronouns, partner preference and the gender detected during verification.</p>
		<p>Verification images are discarded as soon as they have been classified. Chat messages are relayed and never stored.</p>
		<p>Abuse reports are kept for 14 days and then deleted.</p>
	</body>
	</html>
	`
	fmt.Fprint(w, html)
}
