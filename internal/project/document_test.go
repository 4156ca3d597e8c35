package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wellFormed = `# Kitchen Renovation

## End State
New cabinets installed and painted.

## Tasks
- [x] Pick cabinet style
- [ ] Order cabinets
- [X] Book painter

## Additional Information
Budget is fixed.
`

func TestParse(t *testing.T) {
	doc := Parse(wellFormed)

	assert.Equal(t, "Kitchen Renovation", doc.Title)
	assert.Equal(t, "New cabinets installed and painted.", doc.EndState)
	assert.Equal(t, "Budget is fixed.", doc.AdditionalInfo)
	assert.Empty(t, doc.WaitingInput)
	require.Len(t, doc.Tasks, 3)
	assert.Equal(t, Task{Description: "Pick cabinet style", Completed: true}, doc.Tasks[0])
	assert.Equal(t, Task{Description: "Order cabinets", Completed: false}, doc.Tasks[1])
	assert.True(t, doc.Tasks[2].Completed)
}

func TestParse_HeadingsIgnoreCaseAndSpacing(t *testing.T) {
	doc := Parse("#  Title  \n##   end   state\nDone.\n## TASKS\n- [ ] one\n## waiting on inputs\nBob's answer\n")

	assert.Equal(t, "Title", doc.Title)
	assert.Equal(t, "Done.", doc.EndState)
	assert.Len(t, doc.Tasks, 1)
	assert.Equal(t, "Bob's answer", doc.WaitingInput)
}

func TestParse_CRLF(t *testing.T) {
	doc := Parse("# Title\r\n## End State\r\nDone.\r\n## Tasks\r\n- [x] one\r\n")

	assert.Equal(t, "Title", doc.Title)
	assert.Equal(t, "Done.", doc.EndState)
	require.Len(t, doc.Tasks, 1)
	assert.Equal(t, "one", doc.Tasks[0].Description)
}

func TestParse_Empty(t *testing.T) {
	doc := Parse("")

	assert.Empty(t, doc.Title)
	assert.NotNil(t, doc.Tasks)
	assert.Empty(t, doc.Tasks)
}

func TestCountTasks(t *testing.T) {
	total, completed := CountTasks(wellFormed)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, completed)

	total, completed = CountTasks("no tasks here\n- [] not a box\n")
	assert.Zero(t, total)
	assert.Zero(t, completed)
}

func TestNameFromFilename(t *testing.T) {
	assert.Equal(t, "Kitchen Renovation", NameFromFilename("Kitchen_Renovation.txt"))
	assert.Equal(t, "notes", NameFromFilename("notes.TXT"))
	assert.Equal(t, "plain", NameFromFilename("plain"))
	assert.Equal(t, "Café", NameFromFilename("Café.txt"), "names are NFC")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		issues  []string
	}{
		{"well formed", wellFormed, []string{}},
		{
			"nothing",
			"just some text",
			[]string{"Missing Title section", "Missing End State section", "Missing Tasks section", "No tasks defined"},
		},
		{
			"empty sections",
			"# T\n## End State\n\n## Tasks\n",
			[]string{"No tasks defined", "Empty End State section", "Empty Tasks section"},
		},
		{
			"tasks without boxes",
			"# T\n## End State\nDone\n## Tasks\nsome prose\n",
			[]string{"No tasks defined"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.content)
			assert.Equal(t, tt.issues, v.Issues)
			assert.Equal(t, len(tt.issues) == 0, v.IsWellFormulated)
			assert.Equal(t, len(tt.issues) > 0, v.NeedsImprovement)
		})
	}
}

func TestSetWaitingInput_Append(t *testing.T) {
	got := SetWaitingInput("# T\n\n## Tasks\n- [ ] a\n\n", "Reply from Sam")

	assert.Equal(t, "# T\n\n## Tasks\n- [ ] a\n\n## Waiting on Inputs\nReply from Sam\n", got)
	assert.Equal(t, "Reply from Sam", Parse(got).WaitingInput)
}

func TestSetWaitingInput_ReplacesExistingSection(t *testing.T) {
	content := "# T\n## Waiting on Inputs\nold answer\nmore old\n\n## Tasks\n- [ ] a\n"

	got := SetWaitingInput(content, "new answer")

	assert.Equal(t, "# T\n## Waiting on Inputs\nnew answer\n\n## Tasks\n- [ ] a\n", got)
}

func TestSetWaitingInput_Idempotent(t *testing.T) {
	for _, content := range []string{
		wellFormed,
		"# T\n## Waiting on Inputs\nx\n",
		"# T\n## Waiting on Inputs\nx\n\n## Tasks\n- [ ] a\n",
		"",
	} {
		once := SetWaitingInput(content, "answer")
		twice := SetWaitingInput(once, "answer")
		assert.Equal(t, once, twice)
	}
}

func TestSetWaitingInput_EmptyInputIsNoop(t *testing.T) {
	assert.Equal(t, wellFormed, SetWaitingInput(wellFormed, "  "))
}
