/*
Package log provides structured logging for Vigil built on zerolog.

Call Init once at startup, then use the package helpers or create child
loggers with WithComponent, WithOwner, or WithIP for contextual fields.
Console output is the default; JSON output is available for production.
*/
package log
