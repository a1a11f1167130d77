package telegram

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SendPhoto delivers a screenshot or rendered chart to the chat. Used by
// send_photo so an agent can hand back visual artifacts produced while
// driving a terminal (e.g. a plotted graph written to disk by a command).
func (a *Adapter) SendPhoto(chatID int64, photoPath string, caption string) error {
	if strings.HasPrefix(photoPath, "http://") || strings.HasPrefix(photoPath, "https://") {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoPath))
		photo.Caption = caption
		photo.ParseMode = "Markdown"
		_, err := a.bot.Send(photo)
		return err
	}

	file, err := os.Open(photoPath)
	if err != nil {
		return fmt.Errorf("failed to open photo: %w", err)
	}
	defer file.Close()

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileReader{
		Name:   filepath.Base(photoPath),
		Reader: file,
	})
	photo.Caption = caption
	photo.ParseMode = "Markdown"
	_, err = a.bot.Send(photo)
	return err
}

// SendDocument delivers an arbitrary file produced by a run (a log dump, an
// exported report, a tarball assembled by a command) back to the chat.
func (a *Adapter) SendDocument(chatID int64, docPath string, caption string) error {
	file, err := os.Open(docPath)
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	defer file.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{
		Name:   filepath.Base(docPath),
		Reader: file,
	})
	doc.Caption = caption
	_, err = a.bot.Send(doc)
	return err
}
