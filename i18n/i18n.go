// Package i18n holds the reply templates of the bot and resolves the
// language a reply is written in. The language is always passed explicitly,
// there is no package level "current" language.
package i18n

import (
	"fmt"
)

type Lang string

const (
	En Lang = "en"
	Ru Lang = "ru"

	Default = En
)

type TextID string

const (
	WelcomeMessage          TextID = "WELCOME_MESSAGE"
	UnknownCommand          TextID = "UNKNOWN_COMMAND"
	NeedToSendPicture       TextID = "NEED_TO_SEND_PICTURE"
	ErrorText               TextID = "ERROR_TEXT"
	DownloadingPicture      TextID = "DOWNLOADING_PICTURE"
	PictureDownloaded       TextID = "PICTURE_DOWNLOADED"
	CommandsAreNowAvailable TextID = "COMMANDS_ARE_NOW_AVAILABLE"
)

var texts = map[TextID]map[Lang]string{
	WelcomeMessage: {
		Ru: "Отправь мне картинку",
		En: "Send me a picture",
	},
	UnknownCommand: {
		Ru: "Неизвестная команда: '%s'",
		En: "Unknown command: '%s'",
	},
	NeedToSendPicture: {
		Ru: "Нужно отправить мне картинку",
		En: "Need to send me a picture",
	},
	ErrorText: {
		Ru: "⚠ Возникла какая-то проблема. Попробуйте повторить запрос или попробовать чуть позже ...",
		En: "⚠ There is a problem. Please try again or try a little later ...",
	},
	DownloadingPicture: {
		Ru: "Скачиваю картинку ...",
		En: "Downloading a picture ...",
	},
	PictureDownloaded: {
		Ru: "Картинка скачана!",
		En: "Picture downloaded!",
	},
	CommandsAreNowAvailable: {
		Ru: "Теперь доступны команды над картинкой!",
		En: "Commands above the picture are now available!",
	},
}

// Resolve maps a user's locale tag to a supported language. Only an exact
// "ru" switches away from the default.
func Resolve(locale string) Lang {
	if Lang(locale) == Ru {
		return Ru
	}
	return Default
}

// Format renders the template id in lang. An unknown id panics: templates
// are fixed at build time, so it can only be a programming error.
func Format(id TextID, lang Lang, args ...any) string {
	byLang, ok := texts[id]
	if !ok {
		panic(fmt.Sprintf("i18n: unknown text id %q", id))
	}

	tmpl, ok := byLang[lang]
	if !ok {
		tmpl = byLang[Default]
	}

	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
