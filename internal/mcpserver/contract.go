package mcpserver

// DiagnosticKinds documents the problems the checker reports and the link
// syntax it resolves, for LLM consumers fixing a vault.
const DiagnosticKinds = `# Ansuz Diagnostic Kinds

Every report lists diagnostics for one note. Each diagnostic carries a
zero-based LSP range (UTF-16 columns), severity ` + "`error`" + `, source
` + "`ansuz`" + ` and one of the codes below.

## Codes

| Code | Message | Fix |
|------|---------|-----|
| ` + "`duplicate-title`" + ` | Duplicate title | Keep a single level-1 heading; demote the others. |
| ` + "`duplicate-heading`" + ` | Duplicate heading | Rename one of the headings sharing the same text. The first occurrence is kept as canonical. |
| ` + "`broken-note-link`" + ` | Reference to non-existent note ` + "`name`" + ` | Create the note or fix the link target. |
| ` + "`broken-heading-link`" + ` | Reference to non-existent heading ` + "`note`heading" + ` | Link to an existing heading of that note. |

## Link syntax

- ` + "`[[note]]`" + ` links to a note by name. The name is the vault-relative
  path without the ` + "`.md`" + ` extension: ` + "`[[folder/note]]`" + `.
- ` + "`[[note#Heading]]`" + ` links to a heading of that note. Headings match on
  their exact text.
- ` + "`[[#Heading]]`" + ` links to a heading of the current note.
- ` + "`[[note|alias]]`" + ` sets display text; the alias is never checked.
- Links inside code spans and code blocks are ignored.

## Titles and headings

- The level-1 headings of a note are its titles; only the first one counts.
- Headings of level 2 and deeper must be unique by text within a note,
  regardless of level.
`
