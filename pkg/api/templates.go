package api

import "html/template"

// loginTemplate is the credential prompt. The form posts back to the verify
// endpoint carrying the ticket key so the pending request survives the
// round trip.
var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Log in</title>
</head>
<body>
  <h1>Log in</h1>
  <p>You are signing in to <strong>{{.SPEntityID}}</strong>.</p>
  {{if gt .FailCount 0}}
  <p class="error">Login incorrect ({{.FailCount}} failed {{if eq .FailCount 1}}attempt{{else}}attempts{{end}})</p>
  {{end}}
  <form method="POST" action="{{.RedirectURI}}">
    <input type="hidden" name="key" value="{{.Key}}">
    <input type="hidden" name="authn_reference" value="{{.AuthnRef}}">
    <label>Username <input type="text" name="username" autofocus></label>
    <label>Password <input type="password" name="password"></label>
    <button type="submit">Log in</button>
  </form>
  {{if .SignupLink}}<p><a href="{{.SignupLink}}">Create an account</a></p>{{end}}
  {{if .PasswordResetLink}}<p><a href="{{.PasswordResetLink}}">Forgot your password?</a></p>{{end}}
</body>
</html>
`))

// postTemplate auto-submits a response to the service provider for the
// HTTP-POST binding.
var postTemplate = template.Must(template.New("post").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Redirecting</title>
</head>
<body onload="document.forms[0].submit()">
  <noscript><p>Press the button to continue.</p></noscript>
  <form method="POST" action="{{.Destination}}">
    {{range $name, $value := .Fields}}
    <input type="hidden" name="{{$name}}" value="{{$value}}">
    {{end}}
    <noscript><button type="submit">Continue</button></noscript>
  </form>
</body>
</html>
`))

// errorTemplate renders failures a browser user can act on.
var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{.Message}}</p>
</body>
</html>
`))
