package handlers

import (
	"html/template"
	"log"
	"net/http"

	"github.com/propdesk/propdesk/internal/api/middleware"
)

// Shell screens. Everything here is presentational: the business pages render
// static placeholder data, and the auth forms post to the JSON endpoints.

type PageHandler struct {
	tmpl *template.Template
}

type pageData struct {
	Title    string
	Email    string
	FullName string
	Listings []listingCard
}

type listingCard struct {
	Address string
	Status  string
	Price   string
}

var demoListings = []listingCard{
	{Address: "14 Larkspur Lane", Status: "Active", Price: "$425,000"},
	{Address: "902 Beacon Street, Unit 3", Status: "Pending", Price: "$610,000"},
	{Address: "77 Old Mill Road", Status: "Draft", Price: "$389,500"},
}

func NewPageHandler() *PageHandler {
	return &PageHandler{tmpl: template.Must(template.New("pages").Parse(pageTemplates))}
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("ERROR [handlers.render] template %s: %v", name, err)
	}
}

func (h *PageHandler) authData(r *http.Request, title string) pageData {
	data := pageData{Title: title}
	if mgr, ok := middleware.GetManager(r.Context()); ok {
		if sess := mgr.Session(); sess != nil {
			data.Email = sess.User.Email
			data.FullName = sess.User.FullName()
		}
	}
	return data
}

func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.render(w, "login", pageData{Title: "Sign in"})
}

func (h *PageHandler) Signup(w http.ResponseWriter, r *http.Request) {
	h.render(w, "signup", pageData{Title: "Create account"})
}

func (h *PageHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, "forgot", pageData{Title: "Reset password"})
}

func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	data := h.authData(r, "Dashboard")
	data.Listings = demoListings
	h.render(w, "dashboard", data)
}

func (h *PageHandler) Listings(w http.ResponseWriter, r *http.Request) {
	data := h.authData(r, "Listings")
	data.Listings = demoListings
	h.render(w, "listings", data)
}

func (h *PageHandler) Settings(w http.ResponseWriter, r *http.Request) {
	h.render(w, "settings", h.authData(r, "Settings"))
}

const pageTemplates = `
{{define "head"}}<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}} - PropDesk</title></head><body>
<h1>{{.Title}}</h1>{{end}}

{{define "foot"}}</body></html>{{end}}

{{define "login"}}{{template "head" .}}
<form id="login-form">
  <input name="email" type="email" placeholder="Email" required>
  <input name="password" type="password" placeholder="Password" required>
  <button type="submit">Sign in</button>
  <p id="error" hidden></p>
</form>
<a href="/auth/oauth/google?redirect=/dashboard">Continue with Google</a>
<a href="/signup">Create account</a> <a href="/forgot-password">Forgot password?</a>
<script>
document.getElementById('login-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  const f = new FormData(e.target);
  const res = await fetch('/api/v1/auth/login', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({email: f.get('email'), password: f.get('password')}),
  });
  if (res.ok) { location.replace('/dashboard'); return; }
  const el = document.getElementById('error');
  el.textContent = await res.text();
  el.hidden = false;
});
</script>
{{template "foot" .}}{{end}}

{{define "signup"}}{{template "head" .}}
<form id="signup-form">
  <input name="fullName" placeholder="Full name" required>
  <input name="email" type="email" placeholder="Email" required>
  <input name="password" type="password" placeholder="Password" required>
  <button type="submit">Create account</button>
  <p id="error" hidden></p>
  <p id="confirm" hidden>Check your email to confirm your account.</p>
</form>
<script>
document.getElementById('signup-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  const f = new FormData(e.target);
  const res = await fetch('/api/v1/auth/signup', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({fullName: f.get('fullName'), email: f.get('email'), password: f.get('password')}),
  });
  if (!res.ok) {
    const el = document.getElementById('error');
    el.textContent = await res.text();
    el.hidden = false;
    return;
  }
  const body = await res.json();
  if (body.confirmationPending) {
    document.getElementById('confirm').hidden = false;
    return;
  }
  location.replace('/dashboard');
});
</script>
{{template "foot" .}}{{end}}

{{define "forgot"}}{{template "head" .}}
<form id="forgot-form">
  <input name="email" type="email" placeholder="Email" required>
  <button type="submit">Send reset link</button>
  <p id="sent" hidden>If an account exists for that address, a reset link is on its way.</p>
  <p id="error" hidden></p>
</form>
<script>
document.getElementById('forgot-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  const f = new FormData(e.target);
  const res = await fetch('/api/v1/auth/reset', {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({email: f.get('email')}),
  });
  const el = document.getElementById(res.ok ? 'sent' : 'error');
  if (!res.ok) el.textContent = await res.text();
  el.hidden = false;
});
</script>
{{template "foot" .}}{{end}}

{{define "nav"}}
<nav>
  <a href="/dashboard">Dashboard</a>
  <a href="/listings">Listings</a>
  <a href="/settings">Settings</a>
  <span>{{if .FullName}}{{.FullName}}{{else}}{{.Email}}{{end}}</span>
  <button id="logout">Sign out</button>
</nav>
<script>
document.getElementById('logout').addEventListener('click', async () => {
  await fetch('/api/v1/auth/logout', {method: 'POST'});
  location.replace('/login');
});
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/session');
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  if (!ev.authenticated) location.replace('/login');
};
</script>
{{end}}

{{define "dashboard"}}{{template "head" .}}{{template "nav" .}}
<h2>Your listings</h2>
<ul>{{range .Listings}}<li>{{.Address}} &mdash; {{.Status}} &mdash; {{.Price}}</li>{{end}}</ul>
{{template "foot" .}}{{end}}

{{define "listings"}}{{template "head" .}}{{template "nav" .}}
<table>
  <tr><th>Address</th><th>Status</th><th>Price</th></tr>
  {{range .Listings}}<tr><td>{{.Address}}</td><td>{{.Status}}</td><td>{{.Price}}</td></tr>{{end}}
</table>
{{template "foot" .}}{{end}}

{{define "settings"}}{{template "head" .}}{{template "nav" .}}
<form id="profile-form">
  <input name="fullName" placeholder="Full name">
  <input name="email" type="email" placeholder="Email">
  <input name="phone" placeholder="Phone">
  <button type="submit">Save</button>
  <p id="status" hidden></p>
</form>
<script>
let pristine = {};
(async () => {
  const res = await fetch('/api/v1/profile');
  if (!res.ok) return;
  pristine = await res.json();
  const f = document.getElementById('profile-form');
  f.fullName.value = pristine.fullName || '';
  f.email.value = pristine.email || '';
  f.phone.value = pristine.phone || '';
})();
document.getElementById('profile-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  const f = e.target;
  const res = await fetch('/api/v1/profile', {
    method: 'PUT',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify({fullName: f.fullName.value, email: f.email.value, phone: f.phone.value}),
  });
  const el = document.getElementById('status');
  if (res.ok) {
    pristine = await res.json();
    el.textContent = 'Saved.';
  } else {
    f.fullName.value = pristine.fullName || '';
    f.email.value = pristine.email || '';
    f.phone.value = pristine.phone || '';
    el.textContent = await res.text();
  }
  el.hidden = false;
});
</script>
{{template "foot" .}}{{end}}
`
