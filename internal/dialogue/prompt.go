package dialogue

import (
	"fmt"

	"github.com/comigor/persona-dialogue/internal/domain"
)

const openingTemplate = `阅读下面的角色人设。
角色一:
%s的人设：
%s
角色二:
%s的人设：
%s

要求如下：
1. 在符合角色一的人设的条件下，假如角色一和角色二即将开展对话，对话将由角色一开始，请生成角色一对于对话的第一句话，不要生成任何多余的内容
2. 彼此之间的称呼应该满足相互尊重
3. 描写不能包含敏感词，人物形象需得体，不要超过50字`

// OpeningInstruction asks the chat model for the user persona's first line.
func OpeningInstruction(meta domain.CharacterMeta) string {
	return fmt.Sprintf(openingTemplate, meta.UserName, meta.UserInfo, meta.BotName, meta.BotInfo)
}
