package cwidget

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// Input is a labelled entry that only forwards values its Validator accepts.
type Input[T any] struct {
	widget.BaseWidget

	labelWidget *widget.Label
	entryWidget *widget.Entry
	errorWidget *widget.Label

	LabelText   string
	Placeholder string

	Value T

	OnChanged func(T)
	Validator func(string) (T, error)
	Format    func(T) string
}

func newInput[T any](label, placeholder string, value T, validator func(string) (T, error), format func(T) string, onChanged func(T)) *Input[T] {
	input := &Input[T]{
		LabelText:   label,
		Placeholder: placeholder,
		Value:       value,
		OnChanged:   onChanged,
		Validator:   validator,
		Format:      format,
	}

	input.labelWidget = widget.NewLabel(input.caption())
	input.labelWidget.TextStyle = fyne.TextStyle{Bold: true}

	input.entryWidget = widget.NewEntry()
	input.entryWidget.SetPlaceHolder(placeholder)

	input.errorWidget = widget.NewLabel("")
	input.errorWidget.Hidden = true
	input.errorWidget.TextStyle = fyne.TextStyle{Italic: true}
	input.errorWidget.Importance = widget.DangerImportance

	input.entryWidget.OnChanged = func(s string) {
		res, err := input.Validator(s)
		input.SetError(err)
		if err != nil {
			return
		}

		input.Value = res
		input.labelWidget.SetText(input.caption())
		if input.OnChanged != nil {
			input.OnChanged(res)
		}
	}

	input.ExtendBaseWidget(input)
	return input
}

func (item *Input[T]) caption() string {
	return fmt.Sprintf("%s: %s", item.LabelText, item.Format(item.Value))
}

// NewIntInput accepts positive integers. An empty entry keeps the current value.
func NewIntInput(label, placeholder string, value int, onChanged func(int)) *Input[int] {
	var input *Input[int]
	input = newInput(label, placeholder, value, func(s string) (int, error) {
		if s == "" {
			return input.Value, nil
		}
		res, err := strconv.Atoi(s)
		if err != nil {
			return input.Value, errors.New("not a number")
		}
		if res <= 0 {
			return input.Value, errors.New("must be positive")
		}
		return res, nil
	}, strconv.Itoa, onChanged)
	return input
}

// NewSourceInput edits a video source. Text is trimmed and forwarded once
// check accepts it; a nil check accepts everything.
func NewSourceInput(label, placeholder, value string, check func(string) error, onChanged func(string)) *Input[string] {
	input := newInput(label, placeholder, value, func(s string) (string, error) {
		s = strings.TrimSpace(s)
		if check != nil {
			if err := check(s); err != nil {
				return "", err
			}
		}
		return s, nil
	}, func(s string) string {
		if s == "" {
			return "default camera"
		}
		return s
	}, onChanged)
	input.entryWidget.SetText(value)
	return input
}

func (item *Input[T]) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewVBox(
		item.labelWidget,
		item.entryWidget,
		item.errorWidget,
	)

	return widget.NewSimpleRenderer(c)
}

func (item *Input[T]) SetError(err error) {
	item.errorWidget.Hidden = err == nil
	if err != nil {
		item.errorWidget.SetText(err.Error())
	}
	item.errorWidget.Refresh()
}

func (item *Input[T]) SetText(text string) {
	item.entryWidget.SetText(text)
}

func (item *Input[T]) Text() string {
	return item.entryWidget.Text
}

// Valid reports whether the current entry text passes validation.
func (item *Input[T]) Valid() bool {
	_, err := item.Validator(item.entryWidget.Text)
	return err == nil
}
