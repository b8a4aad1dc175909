package domain

import "errors"

// ErrAlreadyVoted возвращается при повторном голосе в том же опросе.
var ErrAlreadyVoted = errors.New("голос в этом опросе уже учтён")

// ErrDuplicateEngagement возвращается, когда ограничение уникальности
// отклонило повторное взаимодействие.
var ErrDuplicateEngagement = errors.New("взаимодействие уже зарегистрировано")

// ErrPollNotFound возвращается, если опрос не существует.
var ErrPollNotFound = errors.New("опрос не найден")

// ErrOptionNotFound возвращается, если вариант не принадлежит опросу.
var ErrOptionNotFound = errors.New("вариант ответа не найден в опросе")

// ErrInvalidRSVPStatus возвращается при неизвестном статусе RSVP.
var ErrInvalidRSVPStatus = errors.New("недопустимый статус RSVP")

// ErrEmptyComment возвращается при попытке сохранить пустой комментарий.
var ErrEmptyComment = errors.New("комментарий не может быть пустым")

// ErrUnknownTargetType возвращается при неизвестном типе контента.
var ErrUnknownTargetType = errors.New("неизвестный тип контента")

// ErrNoRecipients возвращается, когда не нашлось ни одного адресата дайджеста.
var ErrNoRecipients = errors.New("нет получателей дайджеста")

// ErrCycleSuperseded возвращается, когда параллельный цикл уже записал
// DigestRun для этого окна; второй цикл строку не вставляет.
var ErrCycleSuperseded = errors.New("окно дайджеста уже занято параллельным циклом")
