// Package intent turns a planner's free-text command into a tagged request the CLI can
// dispatch to the projectors and the pre-scheduler.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

type Kind string

const (
	PreScheduleAnnual  Kind = "preschedule_annual"
	PreScheduleMonthly Kind = "preschedule_monthly"
	ContinueSchedule   Kind = "continue_schedule"
	Import             Kind = "import"
	Highlight          Kind = "highlight"
	SwitchYear         Kind = "switch_year"
	SwitchMonth        Kind = "switch_month"
	SwitchView         Kind = "switch_view"
	CountTasks         Kind = "count_tasks"
	Busiest            Kind = "busiest"
	Help               Kind = "help"
	Other              Kind = "other"
)

const (
	ViewAnnual  = "annual"
	ViewMonthly = "monthly"
)

// Pending is a plan being assembled step by step ("plan Balanced for 2025", then "also
// Special"). Month is -1 for an annual plan.
type Pending struct {
	Year       int
	Month      int
	Categories []string
}

// Context is the session state a command is read against. Categories lists the catalog's
// category names.
type Context struct {
	Year       int
	Month      int
	View       string
	Categories []string
	Pending    *Pending
}

// Intent is a classified command. Month is zero-based and -1 when the command names none.
// For ContinueSchedule, Categories is the merged selection and Added the newly named ones.
type Intent struct {
	Kind       Kind
	Year       int
	Month      int
	View       string
	Categories []string
	Added      []string
	Highlight  string
}

var (
	yearRe      = regexp.MustCompile(`(\d{4})\s*年?`)
	monthCNRe   = regexp.MustCompile(`(\d{1,2})\s*月`)
	monthENRe   = regexp.MustCompile(`\bmonth\s+(\d{1,2})\b`)
	continueRe  = regexp.MustCompile(`^(再排|然后排|接着排|继续排|then (schedule|plan)|also (schedule|plan)|continue with|add )`)
	monthByName = map[string]int{
		"january": 0, "february": 1, "march": 2, "april": 3, "may": 4, "june": 5,
		"july": 6, "august": 7, "september": 8, "october": 9, "november": 10, "december": 11,
		"jan": 0, "feb": 1, "mar": 2, "apr": 3, "jun": 5, "jul": 6, "aug": 7,
		"sep": 8, "sept": 8, "oct": 9, "nov": 10, "dec": 11,
	}
	// Category names used by the depot's planners.
	categoryAliases = map[string]string{
		"均衡修": "Balanced",
		"特别修": "Special",
		"专项修": "Dedicated",
	}
)

// Classify reads text against ctx. Rules are checked in a fixed order so overlapping
// phrases resolve the same way every time: help, highlight, plan generation, plan
// continuation, import, view switch, counting, busiest period, year, then month.
func Classify(text string, ctx Context) Intent {
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)
	in := Intent{Kind: Other, Year: ctx.Year, Month: -1}

	switch {
	case raw == "?" || raw == "？" || strings.Contains(raw, "帮助") || lower == "help" || strings.HasPrefix(lower, "help "):
		in.Kind = Help

	case strings.Contains(raw, "高亮") || strings.HasPrefix(lower, "highlight"):
		cats := categoriesIn(raw, ctx.Categories)
		if len(cats) == 0 {
			return in
		}
		in.Kind = Highlight
		in.Highlight = cats[0]

	case containsAny(raw, "预排", "先排", "只排") || containsAny(lower, "preschedule", "pre-schedule", "plan first", "only plan"):
		in.Year = yearIn(lower, ctx.Year)
		in.Month = monthIn(lower)
		in.Categories = categoriesIn(raw, ctx.Categories)
		if len(in.Categories) == 0 {
			in.Categories = append([]string(nil), ctx.Categories...)
		}
		in.Kind = PreScheduleAnnual
		if in.Month >= 0 {
			in.Kind = PreScheduleMonthly
		}

	case continueRe.MatchString(lower) && ctx.Pending != nil:
		in.Kind = ContinueSchedule
		in.Year = ctx.Pending.Year
		in.Month = ctx.Pending.Month
		in.Categories = append([]string(nil), ctx.Pending.Categories...)
		for _, c := range categoriesIn(raw, ctx.Categories) {
			if !contains(in.Categories, c) {
				in.Categories = append(in.Categories, c)
				in.Added = append(in.Added, c)
			}
		}

	case strings.Contains(raw, "导入数据") || strings.Contains(lower, "import data") || lower == "import":
		in.Kind = Import
		in.Month = ctx.Month

	case containsAny(lower, "年视图", "年度计划", "annual view", "annual plan", "yearly view", "year view"):
		in.Kind = SwitchView
		in.View = ViewAnnual

	case containsAny(lower, "月视图", "月度计划", "monthly view", "monthly plan", "month view"):
		in.Kind = SwitchView
		in.View = ViewMonthly

	case containsAny(lower, "多少任务", "任务总数", "how many tasks", "task count", "count tasks"):
		in.Kind = CountTasks
		in.View = ctx.View
		if strings.Contains(raw, "年") || strings.Contains(lower, "year") {
			in.View = ViewAnnual
		}

	case containsAny(lower, "最忙", "最繁忙", "busiest"):
		in.Kind = Busiest
		in.View = ctx.View

	case yearRe.MatchString(lower):
		in.Kind = SwitchYear
		in.Year = yearIn(lower, ctx.Year)
		in.View = ViewAnnual

	default:
		if m := monthIn(lower); m >= 0 {
			in.Kind = SwitchMonth
			in.Month = m
			in.View = ViewMonthly
		}
	}
	return in
}

func yearIn(lower string, fallback int) int {
	if m := yearRe.FindStringSubmatch(lower); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			return y
		}
	}
	return fallback
}

// monthIn returns the zero-based month a command names, or -1.
func monthIn(lower string) int {
	for _, re := range []*regexp.Regexp{monthCNRe, monthENRe} {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 12 {
				return n - 1
			}
		}
	}
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if m, ok := monthByName[word]; ok {
			return m
		}
	}
	return -1
}

// categoriesIn lists the catalog categories named in text, in catalog order.
func categoriesIn(text string, known []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, name := range known {
		if strings.Contains(lower, strings.ToLower(name)) {
			out = append(out, name)
			continue
		}
		for alias, target := range categoryAliases {
			if target == name && strings.Contains(text, alias) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
