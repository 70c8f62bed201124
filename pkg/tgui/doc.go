// Package tgui builds Telegram HTML message fragments. Every helper escapes
// its text input; values of type H are already safe to send.
package tgui
