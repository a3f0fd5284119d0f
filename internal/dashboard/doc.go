// Package dashboard serves the lorawatch web dashboard.
//
// The dashboard is a single page that lists devices from the REST API and
// keeps them current over the /api/v1/ws stream. Its assets are embedded
// into the binary; Handler can serve them from a directory instead while
// the page is being edited.
package dashboard
