package tgui

// MaxMessageLen is Telegram's message text size limit in characters.
const MaxMessageLen = 4096
