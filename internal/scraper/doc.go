// Package scraper contains the fetch engine: the instance pool, the typed
// failure taxonomy and the orchestrator that walks mirror instances until one
// yields a valid post record.
//
// Browser sessions, markup extraction and media resolution live in their own
// packages and plug in through the interfaces declared here.
package scraper
