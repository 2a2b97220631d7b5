// Package model defines the provider-agnostic abstraction for text completion
// used by model-backed handlers.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Hide vendor SDKs behind the Model interface
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so handlers remain decoupled from vendor SDKs.
package model
