// Package assets persists the asset catalog: one row per uploaded media
// item, created when its upload completes and updated as transcoding
// publishes artifacts.
package assets
