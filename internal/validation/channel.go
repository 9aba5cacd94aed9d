package validation

import (
	"fmt"
	"regexp"
)

// ChannelPattern определяет допустимый формат имени канала
// Латинские буквы, цифры и символы _ . : -
var ChannelPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const (
	// MaxChannelLen максимальная длина имени канала
	MaxChannelLen = 128
)

// ValidateChannelName проверяет имя broadcast-канала.
// Имя попадает в путь URL и в имя Redis-канала без экранирования.
func ValidateChannelName(name string) error {
	if name == "" {
		return fmt.Errorf("channel name cannot be empty")
	}

	if len(name) > MaxChannelLen {
		return fmt.Errorf("channel name must not exceed %d characters", MaxChannelLen)
	}

	if !ChannelPattern.MatchString(name) {
		return fmt.Errorf("channel name can only contain letters, numbers, and the characters _ . : -")
	}

	return nil
}
