// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai provides abstractions for the model services used by corpus.
//
// The ingestion and retrieval pipelines treat model providers as black boxes
// behind two interfaces:
//
//   - Embedder: generates vector embeddings from text
//   - Generator: synthesizes text from a prompt with retrieved context
//
// AIProvider aggregates both for convenient initialization and lifecycle
// management.
//
// Two implementation sub-packages exist:
//
//   - ai/openai: production implementation against OpenAI-compatible APIs
//   - ai/mock: deterministic test doubles
//
// Public constructors in ai/openai return interface types to prevent coupling
// to implementation details; mock constructors return concrete types so tests
// can inject behavior and assert call counts.
package ai
