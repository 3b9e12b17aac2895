// Package fetcher retrieves a place's web page and reduces it to visible text.
//
// The HTTP fetcher issues a single GET with a browser-like User-Agent, rejects
// non-2xx responses with a *StatusError, and uses goquery to drop script,
// style, navigation, header, footer, aside, svg and noscript elements before
// joining the remaining text nodes with single spaces.
package fetcher
