package dispatcher

// customMarkdownFormats tells a bot how to write references the board
// renders as rich elements. Placeholders in braces are filled by the bot.
var customMarkdownFormats = map[string]string{
	"mention":           "[**@{username}**](mention:{user_uid})",
	"bot_mention":       "[**@{bot_uname}**](bot-mention:{bot_uid})",
	"card_link":         "[{card_title}](card:{project_uid}/{card_uid})",
	"project_wiki_link": "[{wiki_title}](wiki:{project_uid}/{wiki_uid})",
	"checkitem":         "- [ ] {title}",
	"checked_checkitem": "- [x] {title}",
	"date":              "{{date:{iso8601}}}",
	"datetime":          "{{datetime:{iso8601}}}",
}

// CustomMarkdownFormats returns a copy of the format table.
func CustomMarkdownFormats() map[string]string {
	out := make(map[string]string, len(customMarkdownFormats))
	for k, v := range customMarkdownFormats {
		out[k] = v
	}
	return out
}
