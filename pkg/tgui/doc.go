// Package tgui provides small Telegram text helpers:
//   - Safe HTML building for ParseMode="HTML" (auto escaping)
//   - Message length clamping to Telegram's limit
package tgui
