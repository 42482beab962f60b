// Package webui serves the dashboard single-page application.
//
// Assets come from a directory on disk when one is configured (the
// STATIC_DIR / api.static_dir setting) and from a small embedded status page
// otherwise, so the relay always answers "/" with something useful.
//
// Unknown paths fall back to index.html so client-side routing works.
// index.html is never cached; every other asset is served with a one year
// max-age because the dashboard build fingerprints its file names.
package webui
