package project

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Section headings recognised in a project file.
const (
	headingEndState       = "End State"
	headingTasks          = "Tasks"
	headingAdditionalInfo = "Additional Information"
	headingWaitingInputs  = "Waiting on Inputs"
)

// Task is one checkbox line under "## Tasks".
type Task struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Document is the parsed content of a project file.
//
// A project file is plain text with a "# Title" line and "## Section"
// headings. Sections end at the next line that starts with "##".
type Document struct {
	Title          string `json:"title,omitempty"`
	EndState       string `json:"endState,omitempty"`
	Tasks          []Task `json:"tasks"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
	WaitingInput   string `json:"waitingInput,omitempty"`
}

var (
	titleLine   = regexp.MustCompile(`(?m)^[ \t]*#[ \t]+(.+)$`)
	headingLine = regexp.MustCompile(`^##\s+(.+?)\s*$`)
	taskLine    = regexp.MustCompile(`- \[([ xX])\]\s*(.+)$`)
	checkbox    = regexp.MustCompile(`- \[[xX ]\]\s+`)
	checkedBox  = regexp.MustCompile(`- \[[xX]\] `)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Parse extracts the title, sections and tasks of a project file.
// Missing sections are left empty.
func Parse(content string) Document {
	content = norm.NFC.String(content)
	doc := Document{Tasks: []Task{}}

	if m := titleLine.FindStringSubmatch(content); m != nil {
		doc.Title = strings.TrimSpace(m[1])
	}

	sections := splitSections(content)
	doc.EndState = sections.get(headingEndState)
	doc.AdditionalInfo = sections.get(headingAdditionalInfo)
	doc.WaitingInput = sections.get(headingWaitingInputs)

	for _, line := range strings.Split(sections.get(headingTasks), "\n") {
		m := taskLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		doc.Tasks = append(doc.Tasks, Task{
			Description: strings.TrimSpace(m[2]),
			Completed:   m[1] != " ",
		})
	}
	return doc
}

type section struct {
	heading string
	body    string
}

type sectionList []section

// get returns the trimmed body of the first section whose heading matches
// name, ignoring case and spacing.
func (l sectionList) get(name string) string {
	if s, ok := l.find(name); ok {
		return s.body
	}
	return ""
}

func (l sectionList) find(name string) (section, bool) {
	for _, s := range l {
		if sameHeading(s.heading, name) {
			return s, true
		}
	}
	return section{}, false
}

func sameHeading(a, b string) bool {
	return strings.EqualFold(whitespace.ReplaceAllString(a, " "), whitespace.ReplaceAllString(b, " "))
}

// splitSections cuts content at lines starting with "##".
func splitSections(content string) sectionList {
	var out sectionList
	var cur *section
	var body []string

	flush := func() {
		if cur != nil {
			cur.body = strings.TrimSpace(strings.Join(body, "\n"))
			out = append(out, *cur)
		}
		body = body[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "##") {
			flush()
			cur = nil
			if m := headingLine.FindStringSubmatch(line); m != nil {
				cur = &section{heading: m[1]}
			}
			continue
		}
		if cur != nil {
			body = append(body, line)
		}
	}
	flush()
	return out
}

// CountTasks returns the number of checkbox lines anywhere in content and
// how many of them are checked.
func CountTasks(content string) (total, completed int) {
	for _, line := range strings.Split(content, "\n") {
		total += len(checkbox.FindAllStringIndex(line, -1))
		completed += len(checkedBox.FindAllStringIndex(line, -1))
	}
	return total, completed
}

// NameFromFilename derives a display name from a file name: the .txt
// extension is dropped and underscores become spaces.
func NameFromFilename(filename string) string {
	name := filename
	if strings.HasSuffix(strings.ToLower(name), ".txt") {
		name = name[:len(name)-len(".txt")]
	}
	return norm.NFC.String(strings.ReplaceAll(name, "_", " "))
}

// Validation is the structural assessment of a project file.
type Validation struct {
	IsWellFormulated bool     `json:"isWellFormulated"`
	NeedsImprovement bool     `json:"needsImprovement"`
	Issues           []string `json:"issues"`
}

// Validate checks that content has a title, an End State and a Tasks
// section, at least one task, and no empty required section.
func Validate(content string) Validation {
	content = norm.NFC.String(content)
	issues := []string{}

	sections := splitSections(content)
	if !titleLine.MatchString(content) {
		issues = append(issues, "Missing Title section")
	}
	endState, hasEndState := sections.find(headingEndState)
	if !hasEndState {
		issues = append(issues, "Missing End State section")
	}
	tasks, hasTasks := sections.find(headingTasks)
	if !hasTasks {
		issues = append(issues, "Missing Tasks section")
	}

	if total, _ := CountTasks(content); total == 0 {
		issues = append(issues, "No tasks defined")
	}

	if hasEndState && endState.body == "" {
		issues = append(issues, "Empty End State section")
	}
	if hasTasks && tasks.body == "" {
		issues = append(issues, "Empty Tasks section")
	}

	return Validation{
		IsWellFormulated: len(issues) == 0,
		NeedsImprovement: len(issues) > 0,
		Issues:           issues,
	}
}

// SetWaitingInput replaces the body of the first "## Waiting on Inputs"
// section with input, or appends the section when there is none. Applying
// it twice with the same input yields the same content. An empty input
// leaves content unchanged.
func SetWaitingInput(content, input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return content
	}
	const heading = "## " + headingWaitingInputs
	replacement := heading + "\n" + input + "\n"

	start := strings.Index(content, heading)
	if start < 0 {
		return strings.TrimRight(content, " \t\r\n") + "\n\n" + replacement
	}

	end := len(content)
	if i := strings.Index(content[start+len(heading):], "\n##"); i >= 0 {
		end = start + len(heading) + i
	}
	return content[:start] + replacement + content[end:]
}
