package avatar

import "strings"

const appearanceTemplate = `请从下列文本中，抽取人物的外貌描写。若文本中不包含外貌描写，请你推测人物的性别、年龄，并生成一段外貌描写。要求：
1. 只生成外貌描写，不要生成任何多余的内容。
2. 外貌描写不能包含敏感词，人物形象需得体。
3. 尽量用短语描写，而不是完整的句子。
4. 不要超过50字

文本：
`

// AppearanceInstruction asks the chat model for a short appearance
// description of the persona described by profile.
func AppearanceInstruction(profile string) string {
	return strings.TrimSpace(appearanceTemplate + profile)
}
