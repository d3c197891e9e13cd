// Package collab holds the external collaborators the core degrades
// around: the CRM bridge, the AI answerer, and the quote generator.
// Every call site treats failures as best-effort.
package collab
